package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// SpawnOptions describes the daemon a client starts when none is running.
type SpawnOptions struct {
	// ConfigFile is handed to the daemon as --config so it serves the same
	// sources the client was configured with.
	ConfigFile string
	// Dir is the daemon's working directory. Empty keeps the caller's.
	Dir string
	// LogPath collects the daemon's stderr, which covers failures that
	// happen before its logger is set up.
	LogPath string
}

// Spawn starts a daemon as a detached subprocess running the same binary.
func Spawn(opts SpawnOptions) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	cmd := spawnCommand(exe, opts)
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening daemon log: %w", err)
		}
		// The child holds its own descriptor after Start.
		defer logFile.Close()
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	return cmd.Process.Release()
}

func spawnCommand(exe string, opts SpawnOptions) *exec.Cmd {
	args := []string{"daemon"}
	if opts.ConfigFile != "" {
		args = append(args, "--config", opts.ConfigFile)
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}
