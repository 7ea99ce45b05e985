package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.activeEngine()
	if eng == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}

	view := eng.View()
	resp := map[string]interface{}{
		"view":       view,
		"configured": eng.Configured(),
	}
	if !eng.Configured() {
		resp["condition"] = engine.ConditionFor(&engine.ConfigurationError{
			Reason: "select a model provider and enter its API key to proceed",
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.activeEngine()
	if eng == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}
	view := eng.View()

	// Latest execution per stage, when the journal is on.
	latest := make(map[engine.Stage]engine.ExecutionRecord)
	if s.store != nil {
		records, err := s.store.ListExecutions(view.RunID)
		if err == nil {
			for _, rec := range records {
				if prev, ok := latest[rec.Stage]; !ok || !rec.CreatedAt.Before(prev.CreatedAt) {
					latest[rec.Stage] = rec
				}
			}
		}
	}

	var stages []map[string]interface{}
	for _, spec := range eng.Registry().Stages() {
		entry := map[string]interface{}{
			"name":          spec.Name,
			"order":         spec.Order,
			"requires":      spec.Requires,
			"produces":      spec.Produces,
			"feedback":      spec.Feedback.Kind,
			"accepts_input": spec.AcceptsInput,
			"publishes":     spec.Publishes,
			"status":        string(engine.StatusPending),
		}
		if rec, ok := latest[spec.Name]; ok {
			entry["status"] = string(rec.Status)
			entry["execution_id"] = rec.ID
			entry["updated_at"] = rec.UpdatedAt
		}
		if spec.Name == view.Stage {
			entry["current"] = true
			entry["status"] = string(view.Status)
		}
		stages = append(stages, entry)
	}
	writeJSON(w, stages)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entry := s.activeEntry()
	if entry == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}

	var d engine.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if d.Kind == "" {
		http.Error(w, "kind is required", http.StatusBadRequest)
		return
	}

	if !entry.running.CompareAndSwap(false, true) {
		writeJSONStatus(w, http.StatusConflict, map[string]string{"error": "a decision is already being applied"})
		return
	}
	defer entry.running.Store(false)

	view, err := entry.engine.Decide(r.Context(), d)
	if err != nil {
		writeJSONStatus(w, http.StatusUnprocessableEntity, view)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.activeEngine()
	if eng == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}

	files, err := eng.Export()
	if errors.Is(err, engine.ErrExportUnavailable) {
		// Before the terminal stage only the labels are listed.
		var labels []map[string]string
		for _, key := range eng.State.Artifacts.Keys() {
			labels = append(labels, map[string]string{"key": key, "label": engine.Label(key)})
		}
		writeJSON(w, map[string]interface{}{"downloadable": false, "artifacts": labels})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"downloadable": true, "artifacts": files})
}

// handleArtifact serves one artifact as a plain-text download.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.activeEngine()
	if eng == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/artifacts/")
	if key == "" {
		http.Error(w, "artifact key required", http.StatusBadRequest)
		return
	}

	files, err := eng.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	for _, f := range files {
		if f.Key == key {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="`+f.FileName+`"`)
			_, _ = w.Write([]byte(f.Content))
			return
		}
	}
	http.Error(w, "artifact not found: "+key, http.StatusNotFound)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRuns(w)
	case http.MethodPost:
		s.createRun(w)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listRuns(w http.ResponseWriter) {
	var runs []store.RunSummary
	if s.store != nil {
		var err error
		runs, err = s.store.ListRuns()
		if err != nil {
			http.Error(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	// In-memory runs that were never journaled still show up.
	s.mu.RLock()
	for id, entry := range s.engines {
		found := false
		for _, rs := range runs {
			if rs.ID == id {
				found = true
				break
			}
		}
		if !found {
			view := entry.engine.View()
			runs = append(runs, store.RunSummary{
				ID:            id,
				Stage:         string(view.Stage),
				Status:        string(view.Status),
				ArtifactCount: len(view.Artifacts),
				CreatedAt:     entry.engine.State.CreatedAt,
			})
		}
	}
	active := s.activeRunID
	s.mu.RUnlock()

	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, map[string]interface{}{"active": active, "runs": runs})
}

func (s *Server) createRun(w http.ResponseWriter) {
	if s.newRun == nil {
		http.Error(w, "new runs are not enabled", http.StatusNotImplemented)
		return
	}
	eng, err := s.newRun()
	if err != nil {
		http.Error(w, "create run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.addRun(eng)
	writeJSONStatus(w, http.StatusCreated, map[string]string{"status": "ok", "run_id": eng.State.RunID})
}

// handleSelectRun switches the active run. Only runs started by this
// process can be selected; the journal is never replayed.
func (s *Server) handleSelectRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[req.RunID]; !ok {
		http.Error(w, "run not loaded: "+req.RunID, http.StatusNotFound)
		return
	}
	s.activeRunID = req.RunID
	writeJSON(w, map[string]string{"status": "ok", "run_id": req.RunID})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.activeEngine()
	if eng == nil {
		http.Error(w, "no active run", http.StatusNotFound)
		return
	}
	writeJSON(w, eng.Metrics.Snapshot())
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.mu.RLock()
		runID = s.activeRunID
		s.mu.RUnlock()
	}

	records := []engine.ExecutionRecord{}
	if s.store != nil {
		stored, err := s.store.ListExecutions(runID)
		if err != nil {
			http.Error(w, "failed to list executions: "+err.Error(), http.StatusInternalServerError)
			return
		}
		records = append(records, stored...)
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
