package server

import (
	"embed"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/store"
)

//go:embed static
var staticFS embed.FS

// RunFactory starts a fresh run wired like the first one.
type RunFactory func() (*engine.Engine, error)

// engineEntry wraps an engine with a per-engine busy flag. One decision is
// applied at a time; a second request gets 409.
type engineEntry struct {
	engine  *engine.Engine
	running atomic.Bool
}

// Server serves the browser decision surface and its JSON API.
type Server struct {
	mu          sync.RWMutex
	engines     map[string]*engineEntry // runID -> entry
	activeRunID string                  // currently selected run
	store       store.Store
	newRun      RunFactory
	mux         *http.ServeMux
	events      *eventHub
	logger      *slog.Logger
}

// New creates a server around an initial run. st and newRun may be nil.
func New(eng *engine.Engine, st store.Store, newRun RunFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engines: make(map[string]*engineEntry),
		store:   st,
		newRun:  newRun,
		mux:     http.NewServeMux(),
		events:  newEventHub(logger),
		logger:  logger,
	}
	s.addRun(eng)
	s.registerRoutes()
	return s
}

// Handler exposes the routed API, mainly for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func (s *Server) addRun(eng *engine.Engine) {
	runID := eng.State.RunID
	s.mu.Lock()
	s.engines[runID] = &engineEntry{engine: eng}
	s.activeRunID = runID
	s.mu.Unlock()
	s.events.watch(runID, eng.Events)
}

// activeEngine returns the engine for the currently selected run, or nil.
func (s *Server) activeEngine() *engine.Engine {
	entry := s.activeEntry()
	if entry == nil {
		return nil
	}
	return entry.engine
}

// activeEntry returns the engineEntry for the currently selected run, or nil.
func (s *Server) activeEntry() *engineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engines[s.activeRunID]
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/stages", s.handleStages)
	s.mux.HandleFunc("/api/decisions", s.handleDecision)
	s.mux.HandleFunc("/api/artifacts", s.handleArtifacts)
	s.mux.HandleFunc("/api/artifacts/", s.handleArtifact)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/select", s.handleSelectRun)
	s.mux.HandleFunc("/api/metrics", s.handleMetrics)
	s.mux.HandleFunc("/api/executions", s.handleExecutions)

	s.mux.HandleFunc("/ws/events", s.events.serveWS)

	staticContent, err := fs.Sub(staticFS, "static")
	if err == nil {
		s.mux.Handle("/", http.FileServer(http.FS(staticContent)))
	}
}

// Start begins serving HTTP.
func (s *Server) Start(addr string) error {
	go s.events.run()
	s.logger.Info("decision surface listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
