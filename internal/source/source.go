package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
	"golang.org/x/sync/errgroup"
)

// Embedded names the bundled search index.
const Embedded = "embedded"

// Options controls how sources are read.
type Options struct {
	// Cache stores fetched URLs. Nil disables caching.
	Cache *Cache
	// Refresh skips cached copies and fetches again.
	Refresh bool
	// Timeout bounds each fetch. Zero means the client default.
	Timeout time.Duration
}

// Loaded describes one source after parsing.
type Loaded struct {
	Source    string
	Crates    []string
	Bytes     int
	FromCache bool
}

// IsURL reports whether src is fetched over HTTP.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// IsLocal reports whether src names a file on disk.
func IsLocal(src string) bool {
	return src != "" && src != Embedded && !IsURL(src)
}

// Resolve returns sources with relative file paths joined onto dir. URLs and
// the embedded name are returned unchanged.
func Resolve(dir string, sources []string) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		if IsLocal(src) && !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		out[i] = src
	}
	return out
}

// Read returns the raw bytes of a source. The bundled index is returned for
// Embedded or an empty name.
func Read(ctx context.Context, src string, opts Options) ([]byte, bool, error) {
	switch {
	case src == "" || src == Embedded:
		return searchindex.EmbeddedSource(), false, nil
	case IsURL(src):
		return readURL(ctx, src, opts)
	default:
		return readFile(src)
	}
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".zst") {
		data, err = decompress(bytes.NewReader(data))
		if err != nil {
			return nil, false, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return data, false, nil
}

func readURL(ctx context.Context, url string, opts Options) ([]byte, bool, error) {
	if opts.Cache != nil && !opts.Refresh && opts.Cache.Has(url) {
		data, err := opts.Cache.Load(url)
		if err == nil {
			return data, true, nil
		}
		slog.Warn("ignoring unreadable cached source", "url", url, "error", err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	data, err := Fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}

	if opts.Cache != nil {
		if err := opts.Cache.Save(url, data); err != nil {
			slog.Warn("failed to cache source", "url", url, "error", err)
		}
	}
	return data, false, nil
}

// Load reads and parses every source concurrently and merges the results in
// source order, so later sources replace crates of earlier ones.
func Load(ctx context.Context, sources []string, opts Options) (*searchindex.Index, []Loaded, error) {
	if len(sources) == 0 {
		sources = []string{Embedded}
	}

	indexes := make([]*searchindex.Index, len(sources))
	loaded := make([]Loaded, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if src == "" || src == Embedded {
				ix, err := searchindex.Embedded()
				if err != nil {
					return fmt.Errorf("parsing embedded index: %w", err)
				}
				indexes[i] = ix
				loaded[i] = Loaded{Source: Embedded, Crates: ix.Names()}
				return nil
			}

			data, fromCache, err := Read(ctx, src, opts)
			if err != nil {
				return err
			}
			ix, err := searchindex.Parse(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", src, err)
			}
			indexes[i] = ix
			loaded[i] = Loaded{Source: src, Crates: ix.Names(), Bytes: len(data), FromCache: fromCache}
			slog.Debug("loaded search index", "source", src, "crates", ix.Len(), "bytes", len(data), "cached", fromCache)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i := 1; i < len(loaded); i++ {
		for _, name := range loaded[i].Crates {
			for _, prev := range loaded[:i] {
				for _, p := range prev.Crates {
					if p == name {
						slog.Warn("crate replaced by later source", "crate", name, "source", loaded[i].Source, "previous", prev.Source)
					}
				}
			}
		}
	}

	return searchindex.Merge(indexes...), loaded, nil
}
