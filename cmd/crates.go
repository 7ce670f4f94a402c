package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

var cratesCmd = &cobra.Command{
	Use:   "crates",
	Short: "List crates in the loaded index",
	Example: `  ferrisindex crates
  ferrisindex crates --kinds`,
	Args: cobra.NoArgs,
	Run:  runCrates,
}

var cratesKinds bool

func init() {
	cratesCmd.Flags().BoolVar(&cratesKinds, "kinds", false, "show item counts by kind")
}

func runCrates(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		slog.Error("failed to connect to daemon", "error", err)
		os.Exit(1)
	}

	resp, err := client.ListCrates(context.Background())
	if err != nil {
		slog.Error("listing crates failed", "error", err)
		os.Exit(1)
	}

	if len(resp.Crates) == 0 {
		fmt.Println("no crates loaded")
		return
	}

	for _, c := range resp.Crates {
		fmt.Printf("  %-30s %5d items\n", c.Name, c.Items)
		if c.Doc != "" {
			fmt.Printf("    %s\n", c.Doc)
		}
		if cratesKinds {
			kinds := make([]string, 0, len(c.Kinds))
			for k := range c.Kinds {
				kinds = append(kinds, k)
			}
			slices.Sort(kinds)
			parts := make([]string, len(kinds))
			for i, k := range kinds {
				parts[i] = fmt.Sprintf("%s=%d", k, c.Kinds[k])
			}
			fmt.Printf("    %s\n", strings.Join(parts, " "))
		}
	}
}
