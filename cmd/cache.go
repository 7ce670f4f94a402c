package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/source"
	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Remove cached copies of fetched search indexes",
	Run:   runClearCache,
}

func runClearCache(cmd *cobra.Command, args []string) {
	if err := source.NewCache(config.SourceCacheDir()).Clear(); err != nil {
		slog.Error("failed to clear cache", "error", err)
		os.Exit(1)
	}
	fmt.Println("source cache cleared")
}
