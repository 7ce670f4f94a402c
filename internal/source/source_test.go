package source

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
	"github.com/klauspost/compress/zstd"
)

const extraIndex = `[["extra",{"doc":"Extra crate.","t":"H","n":["run"],"q":[[0,"extra"]],"d":["Runs."],"i":[0],"f":[0],"c":[],"p":[],"b":[]}]]`

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoad_DefaultsToEmbedded(t *testing.T) {
	ix, loaded, err := Load(context.Background(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := searchindex.Embedded()
	if ix.Len() != want.Len() {
		t.Errorf("got %d crates, want %d", ix.Len(), want.Len())
	}
	if len(loaded) != 1 || loaded[0].Source != Embedded {
		t.Errorf("unexpected loaded: %+v", loaded)
	}
}

func TestLoad_FilesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "extra.js")
	if err := os.WriteFile(plain, []byte(extraIndex), 0644); err != nil {
		t.Fatal(err)
	}
	zst := filepath.Join(dir, "override.js.zst")
	override := `[["xtask",{"doc":"Replaced.","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]}]]`
	if err := os.WriteFile(zst, compress(t, []byte(override)), 0644); err != nil {
		t.Fatal(err)
	}

	ix, loaded, err := Load(context.Background(), []string{Embedded, plain, zst}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := ix.Names()
	want := []string{"qrc", "xtask", "extra"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	x, _ := ix.Crate("xtask")
	if x.Doc() != "Replaced." {
		t.Errorf("xtask not replaced: %q", x.Doc())
	}
	if loaded[1].Bytes != len(extraIndex) {
		t.Errorf("bytes = %d", loaded[1].Bytes)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(context.Background(), []string{filepath.Join(t.TempDir(), "nope.js")}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad_URLWithCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(extraIndex))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir())
	url := srv.URL + "/search-index.js"
	opts := Options{Cache: cache}

	_, loaded, err := Load(context.Background(), []string{url}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if loaded[0].FromCache {
		t.Error("first load should not come from cache")
	}
	if !cache.Has(url) {
		t.Fatal("expected cached copy")
	}

	_, loaded, err = Load(context.Background(), []string{url}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded[0].FromCache {
		t.Error("second load should come from cache")
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", hits.Load())
	}

	opts.Refresh = true
	if _, _, err := Load(context.Background(), []string{url}, opts); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected refresh to fetch, got %d fetches", hits.Load())
	}

	if err := cache.Clear(); err != nil {
		t.Fatal(err)
	}
	if cache.Has(url) {
		t.Error("cache not cleared")
	}
}

func TestFetch_Zstd(t *testing.T) {
	body := compress(t, []byte(extraIndex))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(body)
	}))
	defer srv.Close()

	data, err := Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != extraIndex {
		t.Errorf("got %q", data)
	}
}

func TestFetch_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestResolve(t *testing.T) {
	got := Resolve("/work/proj", []string{
		Embedded,
		"",
		"target/doc/search-index.js",
		"./extra.js.zst",
		"/abs/search-index.js",
		"https://example.com/search-index.js",
	})
	want := []string{
		Embedded,
		"",
		"/work/proj/target/doc/search-index.js",
		"/work/proj/extra.js.zst",
		"/abs/search-index.js",
		"https://example.com/search-index.js",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Resolve[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
