package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/daemon"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/mcp"
	"github.com/spf13/cobra"
)

var (
	debug      bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "ferrisindex",
	Short: "Rustdoc search index MCP server",
	Long: `Serve rustdoc search indexes (search-index.js) over MCP.

The crates come from the bundled index and any files or URLs listed under
index.sources in config.toml. A background daemon holds the published index
and is spawned on demand.`,
	Run: runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "run daemon in-process (visible log output)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default config.toml in the config directory)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(cratesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(exportDBCmd)
}

// connectDaemon returns a daemon client. In debug mode, starts the daemon
// in-process so all log output is visible in the terminal.
func connectDaemon() (*daemon.Client, error) {
	socketPath := config.SocketPath()

	if !debug {
		opts, err := spawnOptions()
		if err != nil {
			return nil, err
		}
		return daemon.ConnectOrSpawn(socketPath, opts)
	}

	// In debug mode: stop any existing daemon, then start in-process
	client := daemon.NewClient(socketPath)
	if client.IsAvailable() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client.Shutdown(shutdownCtx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	database, err := db.New(config.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	slog.SetLogLoggerLevel(slog.LevelDebug)
	srv := daemon.NewServer(cfg, database, socketPath)
	go func() {
		if err := srv.Start(context.Background()); err != nil {
			log.Printf("in-process daemon error: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("in-process daemon did not start within 5 seconds")
}

// spawnOptions starts a new daemon in this process's directory with the
// config file this process resolved.
func spawnOptions() (daemon.SpawnOptions, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return daemon.SpawnOptions{}, fmt.Errorf("loading config: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return daemon.SpawnOptions{}, fmt.Errorf("getting working directory: %w", err)
	}
	return daemon.SpawnOptions{
		ConfigFile: cfg.File,
		Dir:        wd,
		LogPath:    config.LogPath(),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) {
	socketPath := config.SocketPath()

	opts, err := spawnOptions()
	if err != nil {
		log.Fatalf("%v", err)
	}
	server, err := mcp.NewServer(socketPath, opts)
	if err != nil {
		log.Fatalf("failed to create MCP server: %v", err)
	}

	errCh := make(chan error)
	go func() { errCh <- server.Run() }()

	if err := waitForSignal(errCh); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func waitForSignal(errCh chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Printf("received signal: %s", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
