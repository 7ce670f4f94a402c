package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/publish"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extraIndex = `[["extra",{"doc":"Extra <code>crate</code>.","t":"H","n":["run"],"q":[[0,"extra"]],"d":["Runs."],"i":[0],"f":[0],"c":[],"p":[],"b":[]}]]`

func testConfig(mode publish.Mode) *config.Config {
	return &config.Config{
		Publish: config.PublishConfig{Mode: mode},
		Index:   config.IndexConfig{Sources: []string{config.EmbeddedSource}},
	}
}

// startServer runs a daemon on a short-lived socket and returns a client.
func startServer(t *testing.T, s *Server) *Client {
	t.Helper()

	require.NoError(t, s.Init(context.Background()))
	go func() {
		if err := s.Start(context.Background()); err != nil {
			t.Errorf("start: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	client := NewClient(s.socketPath)
	require.Eventually(t, client.IsAvailable, 5*time.Second, 10*time.Millisecond)
	return client
}

// socketDir keeps socket paths under the unix-socket length limit.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fi")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestServer(t *testing.T, mode publish.Mode, database *db.DB) *Server {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	return NewServer(testConfig(mode), database, filepath.Join(socketDir(t), "d.sock"))
}

func TestStatus(t *testing.T) {
	client := startServer(t, newTestServer(t, publish.ModeAuto, nil))

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "export", status.PublishMode)
	require.Len(t, status.Sources, 1)
	assert.Equal(t, config.EmbeddedSource, status.Sources[0].Source)
	require.Len(t, status.Crates, 2)
	assert.Equal(t, "qrc", status.Crates[0].Name)
	assert.Equal(t, 53, status.Crates[0].Items)
	assert.Equal(t, 1, status.Crates[0].Kinds["struct"])
	assert.Equal(t, "xtask", status.Crates[1].Name)
}

func TestStatus_CallbackMode(t *testing.T) {
	client := startServer(t, newTestServer(t, publish.ModeCallback, nil))

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "callback", status.PublishMode)
	assert.Len(t, status.Crates, 2)
}

func TestLookup(t *testing.T) {
	client := startServer(t, newTestServer(t, publish.ModeAuto, nil))
	ctx := context.Background()

	resp, err := client.Lookup(ctx, rpc.LookupRequest{Query: "to_png"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	got := resp.Results[0]
	assert.Equal(t, "qrc::QRCode::to_png", got.Path)
	assert.Equal(t, "method", got.Kind)
	assert.Equal(t, "fn(QRCode, u32) -> ImageBuffer<Rgba<u8>, Vec<u8>>", got.Signature)

	resp, err = client.Lookup(ctx, rpc.LookupRequest{Kinds: []string{"fn"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "xtask::main", resp.Results[0].Path)

	resp, err = client.Lookup(ctx, rpc.LookupRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, defaultLookupLimit)

	_, err = client.Lookup(ctx, rpc.LookupRequest{Kinds: []string{"widget"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestGetCrate(t *testing.T) {
	client := startServer(t, newTestServer(t, publish.ModeAuto, nil))
	ctx := context.Background()

	page, err := client.GetCrate(ctx, rpc.GetCrateRequest{Crate: "qrc"})
	require.NoError(t, err)
	assert.Equal(t, "markdown", page.Format)
	assert.True(t, strings.HasPrefix(page.Content, "---\ncrate: qrc\n"))

	page, err = client.GetCrate(ctx, rpc.GetCrateRequest{Crate: "xtask", Format: "html"})
	require.NoError(t, err)
	assert.Equal(t, "html", page.Format)
	assert.Contains(t, page.Content, "<h1")

	_, err = client.GetCrate(ctx, rpc.GetCrateRequest{Crate: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown crate")

	_, err = client.GetCrate(ctx, rpc.GetCrateRequest{Crate: "qrc", Format: "pdf"})
	require.Error(t, err)
}

func TestLoad_MergesWithoutMutatingPublished(t *testing.T) {
	s := newTestServer(t, publish.ModeAuto, nil)
	client := startServer(t, s)
	ctx := context.Background()

	before := s.Index()
	require.NotNil(t, before)

	path := filepath.Join(t.TempDir(), "extra.js")
	require.NoError(t, os.WriteFile(path, []byte(extraIndex), 0644))

	resp, err := client.Load(ctx, rpc.LoadRequest{Sources: []string{path}})
	require.NoError(t, err)
	assert.Equal(t, []string{"extra"}, resp.Crates)

	list, err := client.ListCrates(ctx)
	require.NoError(t, err)
	var names []string
	for _, c := range list.Crates {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"qrc", "xtask", "extra"}, names)
	assert.Equal(t, "Extra `crate`.", list.Crates[2].Doc)

	assert.Equal(t, []string{"qrc", "xtask"}, before.Names(), "published index changed")
	assert.NotSame(t, before, s.Index())

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status.Sources, 2)
}

func TestLoad_Errors(t *testing.T) {
	client := startServer(t, newTestServer(t, publish.ModeAuto, nil))
	ctx := context.Background()

	_, err := client.Load(ctx, rpc.LoadRequest{})
	require.Error(t, err)

	_, err = client.Load(ctx, rpc.LoadRequest{Sources: []string{filepath.Join(t.TempDir(), "missing.js")}})
	require.Error(t, err)

	list, err := client.ListCrates(ctx)
	require.NoError(t, err)
	assert.Len(t, list.Crates, 2, "failed load must leave the index in place")
}

func TestLoad_RelativePathFromClientDir(t *testing.T) {
	s := newTestServer(t, publish.ModeAuto, nil)
	client := startServer(t, s)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "doc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc", "search-index.js"), []byte(extraIndex), 0644))
	t.Chdir(dir)

	resp, err := client.Load(context.Background(), rpc.LoadRequest{Sources: []string{"./doc/search-index.js"}})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, filepath.Join(dir, "doc", "search-index.js"), resp.Sources[0].Source)
	assert.Equal(t, []string{"extra"}, resp.Crates)
}

func TestLoad_RejectsRelativePath(t *testing.T) {
	s := newTestServer(t, publish.ModeAuto, nil)
	require.NoError(t, s.Init(context.Background()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/load", strings.NewReader(`{"sources":["doc/search-index.js"]}`))
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be absolute")
	assert.Equal(t, []string{"qrc", "xtask"}, s.Index().Names())
}

func TestLoad_LabelsCratesBySource(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)

	s := newTestServer(t, publish.ModeAuto, database)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	path := filepath.Join(t.TempDir(), "extra.js")
	require.NoError(t, os.WriteFile(path, []byte(extraIndex), 0644))
	_, err = s.load(context.Background(), []string{path}, false, true)
	require.NoError(t, err)

	sources := make(map[string]string)
	crates, err := database.ListCrates()
	require.NoError(t, err)
	for _, c := range crates {
		sources[c.Name] = c.Source
	}
	assert.Equal(t, map[string]string{
		"qrc":   config.EmbeddedSource,
		"xtask": config.EmbeddedSource,
		"extra": path,
	}, sources)
}

func TestInit_MirrorsIntoDatabase(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)

	s := newTestServer(t, publish.ModeAuto, database)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	crates, err := database.ListCrates()
	require.NoError(t, err)
	require.Len(t, crates, 2)
	assert.Equal(t, config.EmbeddedSource, crates[0].Source)
}

func TestNotReady(t *testing.T) {
	s := newTestServer(t, publish.ModeAuto, nil)
	assert.Nil(t, s.Index())
}
