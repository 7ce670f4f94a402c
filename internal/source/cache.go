package source

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Cache keeps zstd-compressed copies of fetched search indexes, one file
// per URL.
type Cache struct {
	dir string
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) path(url string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%x.js.zst", sha256.Sum256([]byte(url))))
}

// Save compresses and stores data for url.
func (c *Cache) Save(url string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating source cache dir: %w", err)
	}

	f, err := os.Create(c.path(url))
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer f.Close()

	w, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing compressed data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return nil
}

// Load returns the cached copy for url.
func (c *Cache) Load(url string) ([]byte, error) {
	f, err := os.Open(c.path(url))
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()
	return decompress(f)
}

// Has reports whether url has a cached copy.
func (c *Cache) Has(url string) bool {
	_, err := os.Stat(c.path(url))
	return err == nil
}

// Clear removes every cached copy.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clearing source cache: %w", err)
	}
	return nil
}

func decompress(r io.Reader) ([]byte, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return data, nil
}
