package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/daemon"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background daemon (usually spawned automatically)",
	Long: `Run the daemon in the foreground, logging to the daemon log file.

Clients spawn it with their own --config and working directory, so relative
index sources in that config resolve the same way for both.`,
	Run: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		slog.Error("failed to create log directory", "error", err)
		os.Exit(1)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		slog.New(slog.NewTextHandler(logFile, nil)).Error("failed to load config", "config", configFile, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: cfg.Log.Level})))

	wd, _ := os.Getwd()
	slog.Info("daemon starting",
		"pid", os.Getpid(),
		"dir", wd,
		"config", cfg.File,
		"sources", cfg.IndexSources(),
		"publish_mode", cfg.Publish.Mode)

	database, err := db.New(config.DBPath())
	if err != nil {
		slog.Error("failed to open database", "path", config.DBPath(), "error", err)
		os.Exit(1)
	}

	srv := daemon.NewServer(cfg, database, config.SocketPath())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Info("received signal, shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	if err := srv.Start(context.Background()); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
	slog.Info("daemon stopped")
}
