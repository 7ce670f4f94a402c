package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/daemon"
	md "github.com/jcdickinson/ferrisindex/internal/markdown"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [query]",
	Short: "Find items by name or path in the loaded index",
	Example: `  ferrisindex lookup to_png
  ferrisindex lookup --crate qrc --kind method QRCode::
  ferrisindex lookup --kind fn --limit 5`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLookup,
}

var (
	lookupCrates []string
	lookupKinds  []string
	lookupLimit  int
	lookupJSON   bool
)

func init() {
	lookupCmd.Flags().StringSliceVar(&lookupCrates, "crate", nil, "filter to specific crates (repeatable)")
	lookupCmd.Flags().StringSliceVar(&lookupKinds, "kind", nil, "filter to item kinds, e.g. struct, method (repeatable)")
	lookupCmd.Flags().IntVar(&lookupLimit, "limit", 20, "max results")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "output as JSON")
}

func runLookup(cmd *cobra.Command, args []string) {
	var query string
	if len(args) > 0 {
		query = args[0]
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Lookup(context.Background(), rpc.LookupRequest{
		Query:  query,
		Crates: lookupCrates,
		Kinds:  lookupKinds,
		Limit:  lookupLimit,
	})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}

	if lookupJSON {
		out, _ := json.MarshalIndent(resp.Results, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return
	}

	for i, r := range resp.Results {
		line := fmt.Sprintf("%d. %s (%s)", i+1, r.Path, r.Kind)
		if r.Signature != "" {
			line += " " + r.Signature
		}
		if r.Deprecated {
			line += " [deprecated]"
		}
		fmt.Println(line)
		if r.Doc != "" {
			fmt.Printf("   %s\n", r.Doc)
		}
	}
}

var pageCmd = &cobra.Command{
	Use:   "page <crate>",
	Short: "Print a crate's item page",
	Example: `  ferrisindex page qrc
  ferrisindex page rsindex://qrc
  ferrisindex page --html xtask > xtask.html`,
	Args: cobra.ExactArgs(1),
	Run:  runPage,
}

var (
	pageHTML bool
	pageTOC  bool
)

func init() {
	pageCmd.Flags().BoolVar(&pageHTML, "html", false, "render as HTML instead of markdown")
	pageCmd.Flags().BoolVar(&pageTOC, "toc", false, "print only the page headings")
}

func runPage(cmd *cobra.Command, args []string) {
	crate := strings.TrimSuffix(strings.TrimPrefix(args[0], "rsindex://"), "/")

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	req := rpc.GetCrateRequest{Crate: crate}
	if pageHTML && !pageTOC {
		req.Format = "html"
	}
	resp, err := client.GetCrate(context.Background(), req)
	if err != nil {
		log.Fatalf("get crate failed: %v", err)
	}

	if pageTOC {
		for _, h := range md.Headings(resp.Content) {
			fmt.Println(h)
		}
		return
	}
	fmt.Print(resp.Content)
}

var loadCmd = &cobra.Command{
	Use:   "load <source> [source...]",
	Short: "Merge search indexes into the running daemon",
	Long:  `Load search-index.js files or URLs and merge them over the daemon's index. A crate loaded later replaces an earlier crate of the same name.`,
	Example: `  ferrisindex load ./target/doc/search-index.js
  ferrisindex load https://example.com/doc/search-index.js
  ferrisindex load --refresh https://example.com/doc/search-index.js.zst`,
	Args: cobra.MinimumNArgs(1),
	Run:  runLoad,
}

var loadRefresh bool

func init() {
	loadCmd.Flags().BoolVar(&loadRefresh, "refresh", false, "re-fetch URLs instead of using cached copies")
}

func runLoad(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Load(context.Background(), rpc.LoadRequest{Sources: args, Refresh: loadRefresh})
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}

	for _, s := range resp.Sources {
		cached := ""
		if s.FromCache {
			cached = " (cached)"
		}
		fmt.Printf("  %s: %s%s\n", s.Source, strings.Join(s.Crates, ", "), cached)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the published index and daemon state",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Status(context.Background())
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}

	if statusJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("publish mode: %s\n", resp.PublishMode)
	for _, s := range resp.Sources {
		fmt.Printf("  source %s: %d crates\n", s.Source, len(s.Crates))
	}
	for _, c := range resp.Crates {
		fmt.Printf("  %s [%d items]\n", c.Name, c.Items)
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// Connection reset is expected; the daemon exits after responding.
	client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}
