package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/db"
	md "github.com/jcdickinson/ferrisindex/internal/markdown"
	"github.com/jcdickinson/ferrisindex/internal/publish"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/jcdickinson/ferrisindex/internal/searchindex"
	"github.com/jcdickinson/ferrisindex/internal/source"
	"golang.org/x/sync/singleflight"
)

const defaultLookupLimit = 20

// generation is one published index together with where it came from.
// Loads never modify a generation; they publish a new one.
type generation struct {
	index   *searchindex.Index
	mode    publish.Mode
	sources []rpc.SourceStatus
}

type Server struct {
	db         *db.DB
	cache      *source.Cache
	cfg        *config.Config
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	genMu   sync.RWMutex
	current *generation

	// installMu serializes merge-and-publish so concurrent loads of
	// different source sets cannot drop each other's crates.
	installMu sync.Mutex
	loadGroup singleflight.Group
}

// NewServer creates a daemon. database may be nil, in which case loaded
// indexes are not mirrored into DuckDB.
func NewServer(cfg *config.Config, database *db.DB, socketPath string) *Server {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}

	return &Server{
		db:         database,
		cache:      source.NewCache(config.SourceCacheDir()),
		cfg:        cfg,
		socketPath: socketPath,
		expiration: time.Duration(expSec) * time.Second,
	}
}

// Init loads the configured sources and publishes the merged index.
func (s *Server) Init(ctx context.Context) error {
	_, err := s.load(ctx, s.cfg.IndexSources(), false, false)
	return err
}

// Index returns the currently published index, or nil before Init.
func (s *Server) Index() *searchindex.Index {
	if g := s.generation(); g != nil {
		return g.index
	}
	return nil
}

func (s *Server) generation() *generation {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return s.current
}

// Handler returns the daemon's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("GET /crates", s.withExpReset(s.handleListCrates))
	mux.HandleFunc("POST /get-crate", s.withExpReset(s.handleGetCrate))
	mux.HandleFunc("POST /lookup", s.withExpReset(s.handleLookup))
	mux.HandleFunc("POST /load", s.withExpReset(s.handleLoad))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if s.generation() == nil {
		if err := s.Init(ctx); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("daemon listening", "socket", s.socketPath, "expiration", s.expiration)

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	if s.expTimer != nil {
		s.expTimer.Stop()
	}
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Error("listener close error", "error", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Error("socket remove error", "error", err)
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("db close error", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	slog.Info("expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

// load reads sources and publishes a new generation. With merge set the
// sources are layered over the current index, otherwise they replace it.
func (s *Server) load(ctx context.Context, sources []string, refresh, merge bool) (*rpc.LoadResponse, error) {
	opts := source.Options{
		Cache:   s.cache,
		Refresh: refresh,
		Timeout: time.Duration(s.cfg.Index.FetchTimeoutSeconds) * time.Second,
	}
	ix, loaded, err := source.Load(ctx, sources, opts)
	if err != nil {
		return nil, err
	}

	statuses := make([]rpc.SourceStatus, len(loaded))
	for i, l := range loaded {
		statuses[i] = rpc.SourceStatus{Source: l.Source, Crates: l.Crates, Bytes: l.Bytes, FromCache: l.FromCache}
	}

	s.installMu.Lock()
	defer s.installMu.Unlock()

	combined := statuses
	if prev := s.generation(); merge && prev != nil {
		ix = searchindex.Merge(prev.index, ix)
		combined = append(append([]rpc.SourceStatus{}, prev.sources...), statuses...)
	}

	mode, err := s.install(ix, combined)
	if err != nil {
		return nil, err
	}
	slog.Info("published search index", "mode", mode, "crates", ix.Len(), "sources", len(combined))

	if s.db != nil {
		if err := s.db.ImportLabeled(ix, crateSources(combined)); err != nil {
			slog.Warn("failed to mirror index into database", "error", err)
		}
	}

	resp := &rpc.LoadResponse{Sources: statuses}
	for _, l := range loaded {
		resp.Crates = append(resp.Crates, l.Crates...)
	}
	return resp, nil
}

// crateSources maps each crate to the last source that provided it, which is
// the one whose copy survived the merge.
func crateSources(statuses []rpc.SourceStatus) map[string]string {
	out := make(map[string]string)
	for _, st := range statuses {
		for _, name := range st.Crates {
			out[name] = st.Source
		}
	}
	return out
}

// install publishes ix through a fresh host. Each generation gets its own
// write-once exports object; callback mode hands the index to setGeneration.
func (s *Server) install(ix *searchindex.Index, sources []rpc.SourceStatus) (publish.Mode, error) {
	exports := &publish.Exports{}
	host := publish.Host{
		InitSearch: func(pub *searchindex.Index) {
			s.setGeneration(&generation{index: pub, mode: publish.ModeCallback, sources: sources})
		},
	}
	if s.cfg.Publish.Mode != publish.ModeCallback {
		host.Exports = exports
	}

	mode, err := publish.Publish(ix, host, s.cfg.Publish.Mode)
	if err != nil {
		return "", fmt.Errorf("publishing index: %w", err)
	}
	if mode == publish.ModeExport {
		s.setGeneration(&generation{index: exports.SearchIndex(), mode: mode, sources: sources})
	}
	return mode, nil
}

func (s *Server) setGeneration(g *generation) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.current = g
}

// ready returns the current generation or writes 503.
func (s *Server) ready(w http.ResponseWriter) (*generation, bool) {
	g := s.generation()
	if g == nil {
		writeError(w, http.StatusServiceUnavailable, "no index published")
		return nil, false
	}
	return g, true
}

func summarize(c *searchindex.Crate) rpc.CrateSummary {
	kinds := make(map[string]int)
	for k, n := range c.KindCounts() {
		kinds[k.String()] = n
	}
	return rpc.CrateSummary{
		Name:  c.Name(),
		Doc:   md.DocToMarkdown(c.Doc()),
		Items: c.Len(),
		Kinds: kinds,
	}
}

func summaries(ix *searchindex.Index) []rpc.CrateSummary {
	out := make([]rpc.CrateSummary, 0, ix.Len())
	for _, c := range ix.Crates() {
		out = append(out, summarize(c))
	}
	return out
}

func itemResult(it searchindex.Item) rpc.ItemResult {
	return rpc.ItemResult{
		Crate:      it.Crate,
		Index:      it.Index,
		Kind:       it.Kind.String(),
		Name:       it.Name,
		Path:       it.Path(),
		Signature:  it.Signature,
		Doc:        md.DocToMarkdown(it.Doc),
		Deprecated: it.Deprecated,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	g, ok := s.ready(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rpc.StatusResponse{
		PublishMode: string(g.mode),
		Sources:     g.sources,
		Crates:      summaries(g.index),
	})
}

func (s *Server) handleListCrates(w http.ResponseWriter, r *http.Request) {
	g, ok := s.ready(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rpc.ListCratesResponse{Crates: summaries(g.index)})
}

func (s *Server) handleGetCrate(w http.ResponseWriter, r *http.Request) {
	var req rpc.GetCrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Crate == "" {
		writeError(w, http.StatusBadRequest, "missing crate")
		return
	}

	g, ok := s.ready(w)
	if !ok {
		return
	}
	c, found := g.index.Crate(req.Crate)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", searchindex.ErrUnknownCrate, req.Crate))
		return
	}

	page := md.RenderCrate(c)
	switch req.Format {
	case "", "markdown":
		writeJSON(w, http.StatusOK, rpc.GetCrateResponse{Content: page, Format: "markdown"})
	case "html":
		writeJSON(w, http.StatusOK, rpc.GetCrateResponse{Content: string(md.ToHTML(page)), Format: "html"})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", req.Format))
	}
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req rpc.LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultLookupLimit
	}

	opts := searchindex.LookupOptions{Crates: req.Crates, Limit: req.Limit}
	for _, name := range req.Kinds {
		k, ok := searchindex.ParseKind(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", name))
			return
		}
		opts.Kinds = append(opts.Kinds, k)
	}

	g, ok := s.ready(w)
	if !ok {
		return
	}
	items := g.index.Lookup(req.Query, opts)
	results := make([]rpc.ItemResult, len(items))
	for i, it := range items {
		results[i] = itemResult(it)
	}
	writeJSON(w, http.StatusOK, rpc.LookupResponse{Results: results})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req rpc.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, "missing sources")
		return
	}
	for _, src := range req.Sources {
		if source.IsLocal(src) && !filepath.IsAbs(src) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("source path must be absolute: %s", src))
			return
		}
	}

	// Identical concurrent loads share one fetch and one publication.
	key := strconv.FormatBool(req.Refresh) + "\x00" + strings.Join(req.Sources, "\x00")
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.loadGroup.Do(key, func() (interface{}, error) {
		return s.load(ctx, req.Sources, req.Refresh, true)
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if shared {
		slog.Debug("load shared with concurrent request", "sources", req.Sources)
	}
	writeJSON(w, http.StatusOK, v.(*rpc.LoadResponse))
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
