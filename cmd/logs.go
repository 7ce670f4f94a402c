package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon log file",
	Example: `  ferrisindex logs -n 100
  ferrisindex logs --level warn -f`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
	logsLevel  string
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only show records at or above this level (debug, info, warn, error)")
}

func runLogs(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("no log file found (daemon may not have run yet)")
		return
	}

	var minLevel slog.Level
	filter := logsLevel != ""
	if filter {
		if err := minLevel.UnmarshalText([]byte(logsLevel)); err != nil {
			log.Fatalf("invalid --level %q: %v", logsLevel, err)
		}
	}

	if !logsFollow {
		f, err := os.Open(logPath)
		if err != nil {
			log.Fatalf("opening log: %v", err)
		}
		defer f.Close()
		if err := lastLines(os.Stdout, f, logsLines, filter, minLevel); err != nil {
			log.Fatalf("reading log: %v", err)
		}
		return
	}

	tailCmd := exec.Command("tail", "-n", strconv.Itoa(logsLines), "-f", logPath)
	tailCmd.Stderr = os.Stderr
	if !filter {
		tailCmd.Stdout = os.Stdout
		if err := tailCmd.Run(); err != nil {
			log.Fatalf("tail failed: %v", err)
		}
		return
	}

	out, err := tailCmd.StdoutPipe()
	if err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	if err := tailCmd.Start(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	if err := filterLines(os.Stdout, out, minLevel); err != nil {
		log.Fatalf("reading log: %v", err)
	}
	if err := tailCmd.Wait(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
}

// lastLines writes the last n lines of r, counting only lines that pass the
// level filter when filter is set.
func lastLines(w io.Writer, r io.Reader, n int, filter bool, minLevel slog.Level) error {
	if n <= 0 {
		return nil
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if filter && !passesLevel(line, minLevel) {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, line := range ring {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func filterLines(w io.Writer, r io.Reader, minLevel slog.Level) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); passesLevel(line, minLevel) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// passesLevel reports whether a slog text record is at or above minLevel. Lines
// without a level attribute, such as a panic trace on stderr, always pass.
func passesLevel(line string, minLevel slog.Level) bool {
	level, ok := lineLevel(line)
	return !ok || level >= minLevel
}

func lineLevel(line string) (slog.Level, bool) {
	i := strings.Index(line, "level=")
	if i < 0 || (i > 0 && line[i-1] != ' ') {
		return 0, false
	}
	value := line[i+len("level="):]
	if end := strings.IndexByte(value, ' '); end >= 0 {
		value = value[:end]
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, false
	}
	return level, true
}
