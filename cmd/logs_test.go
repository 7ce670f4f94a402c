package cmd

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `time=2026-10-16T09:00:00.000Z level=DEBUG msg="loading source" source=embedded
time=2026-10-16T09:00:00.010Z level=INFO msg="daemon listening" socket=/run/d.sock
time=2026-10-16T09:00:01.000Z level=WARN msg="fetch failed, using cache" source=https://example.com/search-index.js
panic: runtime error: index out of range
time=2026-10-16T09:00:02.000Z level=ERROR msg="load failed" error="missing.js: no such file"
time=2026-10-16T09:00:03.000Z level=INFO msg="daemon stopped"
`

func TestLineLevel(t *testing.T) {
	tests := []struct {
		line  string
		level slog.Level
		ok    bool
	}{
		{`time=x level=INFO msg=hi`, slog.LevelInfo, true},
		{`level=WARN msg=first`, slog.LevelWarn, true},
		{`time=x level=ERROR+2 msg=hi`, slog.LevelError + 2, true},
		{`time=x level=DEBUG`, slog.LevelDebug, true},
		{`goroutine 1 [running]:`, 0, false},
		{`time=x sublevel=ERROR msg=hi`, 0, false},
		{`time=x level=LOUD msg=hi`, 0, false},
	}
	for _, tt := range tests {
		level, ok := lineLevel(tt.line)
		if ok != tt.ok || level != tt.level {
			t.Errorf("lineLevel(%q) = %v, %v; want %v, %v", tt.line, level, ok, tt.level, tt.ok)
		}
	}
}

func TestLastLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, lastLines(&buf, strings.NewReader(sampleLog), 2, false, 0))
	assert.Equal(t, []string{
		`time=2026-10-16T09:00:02.000Z level=ERROR msg="load failed" error="missing.js: no such file"`,
		`time=2026-10-16T09:00:03.000Z level=INFO msg="daemon stopped"`,
	}, strings.Split(strings.TrimSpace(buf.String()), "\n"))

	buf.Reset()
	require.NoError(t, lastLines(&buf, strings.NewReader(sampleLog), 10, true, slog.LevelWarn))
	assert.Equal(t, []string{
		`time=2026-10-16T09:00:01.000Z level=WARN msg="fetch failed, using cache" source=https://example.com/search-index.js`,
		`panic: runtime error: index out of range`,
		`time=2026-10-16T09:00:02.000Z level=ERROR msg="load failed" error="missing.js: no such file"`,
	}, strings.Split(strings.TrimSpace(buf.String()), "\n"))

	buf.Reset()
	require.NoError(t, lastLines(&buf, strings.NewReader(sampleLog), 0, false, 0))
	assert.Empty(t, buf.String())
}

func TestFilterLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, filterLines(&buf, strings.NewReader(sampleLog), slog.LevelInfo))
	out := buf.String()
	assert.NotContains(t, out, "level=DEBUG")
	assert.Contains(t, out, "daemon listening")
	assert.Contains(t, out, "panic:")
	assert.Equal(t, 5, strings.Count(out, "\n"))
}
