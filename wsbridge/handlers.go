package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cellgrid/engine"
	"cellgrid/scheduler"
	"cellgrid/store"
	"cellgrid/task"
)

type planRequest struct {
	CollectionID string               `json:"collection_id,omitempty"`
	Request      string               `json:"request,omitempty"`
	Targets      []task.TargetSummary `json:"targets"`
	// Plan skips the planner when set.
	Plan *task.Plan `json:"plan,omitempty"`
}

type planResponse struct {
	Collection CollectionView `json:"collection"`
	Plan       *task.Plan     `json:"plan"`
}

type runRequest struct {
	// Budget is a Go duration string, e.g. "10m".
	Budget string `json:"budget,omitempty"`
}

type runAccepted struct {
	CollectionID string `json:"collection_id"`
	Pending      int    `json:"pending"`
}

type editRequest struct {
	Value string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Status
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"collections": len(s.engine.Collections()),
		"clients":     s.hub.Clients(),
	})
}

func (s *Server) handleLimiters(w http.ResponseWriter, r *http.Request) {
	stats := make([]scheduler.Stats, 0, len(s.limiters))
	for _, l := range s.limiters {
		stats = append(stats, l.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// Collections
// =============================================================================

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[planRequest](w, r)
	if !ok {
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets are required")
		return
	}

	plan := req.Plan
	if plan == nil {
		if req.Request == "" {
			writeError(w, http.StatusBadRequest, "request or plan is required")
			return
		}
		var err error
		plan, err = s.engine.SubmitPlan(r.Context(), req.Request, req.Targets)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
	}
	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.engine.Populate(req.CollectionID, plan, req.Targets)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, planResponse{Collection: collectionView(c), Plan: plan})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.Collections()
	slices.Sort(ids)
	out := make([]CollectionView, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.engine.Collection(id); ok {
			out = append(out, collectionView(c))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, collectionView(c))
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.collection(w, r); !ok {
		return
	}
	s.engine.DeleteCollection(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SnapshotPayload{Collection: collectionView(c), Cells: cellViews(c)})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.engine.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "collection has no plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleRun starts RunPlan. With ?wait=true it responds with the report once
// the run returns; otherwise it responds 202 and the report is broadcast as
// run_finished.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req runRequest
	if r.ContentLength > 0 {
		if req, ok = readJSON[runRequest](w, r); !ok {
			return
		}
	}
	var budget time.Duration
	if req.Budget != "" {
		d, err := time.ParseDuration(req.Budget)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid budget")
			return
		}
		budget = d
	}

	pending := c.Progress().Pending
	s.broadcast(TypeRunStarted, c.ID, RunStartedPayload{Pending: pending})

	if wait(r) {
		report, err := s.engine.RunPlan(r.Context(), c.ID, budget)
		if report != nil {
			s.broadcast(TypeRunFinished, c.ID, report)
		}
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.engine.RunPlan(s.ctx, c.ID, budget)
		if err != nil {
			s.logger.Warn("background run failed", "collection", c.ID, "error", err)
		}
		if report != nil {
			s.broadcast(TypeRunFinished, c.ID, report)
		}
	}()
	writeJSON(w, http.StatusAccepted, runAccepted{CollectionID: c.ID, Pending: pending})
}

// =============================================================================
// Tasks and targets
// =============================================================================

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	def, ok := readDefinition(w, r)
	if !ok {
		return
	}
	if err := s.engine.AddTask(chi.URLParam(r, "id"), def); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCollection(w, r, http.StatusCreated)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	def, ok := readDefinition(w, r)
	if !ok {
		return
	}
	def.ID = chi.URLParam(r, "task")
	if err := s.engine.UpdateTask(chi.URLParam(r, "id"), def); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCollection(w, r, http.StatusOK)
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveTask(chi.URLParam(r, "id"), chi.URLParam(r, "task")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCollection(w, r, http.StatusOK)
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := readJSON[task.TargetSummary](w, r)
	if !ok {
		return
	}
	if target.ID == "" {
		writeError(w, http.StatusBadRequest, "target id is required")
		return
	}
	if err := s.engine.AddTarget(chi.URLParam(r, "id"), target); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCollection(w, r, http.StatusCreated)
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveTarget(chi.URLParam(r, "id"), chi.URLParam(r, "target")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCollection(w, r, http.StatusOK)
}

// =============================================================================
// Cells
// =============================================================================

// handleRetry reruns one cell. Like handleRun it waits only with ?wait=true.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	key := cellKey(r)
	st, ok := c.State(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown cell "+key.String())
		return
	}
	if def, _ := c.Task(key.TaskID); def.IsManual() {
		s.writeEngineError(w, engine.ErrManualTask)
		return
	}
	if st.Status == task.StatusRunning {
		s.writeEngineError(w, engine.ErrAlreadyRunning)
		return
	}

	if wait(r) {
		_, err := s.engine.Retry(r.Context(), c.ID, key)
		if err != nil && !recorded(err) {
			s.writeEngineError(w, err)
			return
		}
		s.writeCell(w, c.ID, key, http.StatusOK)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.engine.Retry(s.ctx, c.ID, key); err != nil {
			s.logger.Debug("retry failed", "collection", c.ID, "cell", key.String(), "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, cellView(key, st))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[editRequest](w, r)
	if !ok {
		return
	}
	id, key := chi.URLParam(r, "id"), cellKey(r)
	if err := s.engine.Edit(id, key, req.Value); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeCell(w, id, key, http.StatusOK)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*task.Collection, bool) {
	id := chi.URLParam(r, "id")
	c, ok := s.engine.Collection(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection "+id)
	}
	return c, ok
}

func (s *Server) writeCollection(w http.ResponseWriter, r *http.Request, status int) {
	if c, ok := s.collection(w, r); ok {
		writeJSON(w, status, collectionView(c))
	}
}

func (s *Server) writeCell(w http.ResponseWriter, collectionID string, key task.Key, status int) {
	st, ok := s.engine.GetState(collectionID)[key]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown cell "+key.String())
		return
	}
	writeJSON(w, status, cellView(key, st))
}

func (s *Server) broadcast(t MessageType, collectionID string, payload any) {
	env, err := NewEnvelope(t, collectionID, payload)
	if err != nil {
		s.logger.Error("build envelope", "type", t, "error", err)
		return
	}
	s.hub.Broadcast(env)
}

// writeEngineError maps engine errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownCollection),
		errors.Is(err, engine.ErrUnknownCell),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrManualTask), errors.Is(err, engine.ErrNotManual):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrNoPlanner):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// recorded reports whether err is a run failure already stored on the cell.
func recorded(err error) bool {
	for _, e := range []error{engine.ErrUnknownCollection, engine.ErrUnknownCell, engine.ErrAlreadyRunning,
		engine.ErrManualTask, engine.ErrClosed, scheduler.ErrLimiterTimeout} {
		if errors.Is(err, e) {
			return false
		}
	}
	return true
}

func cellKey(r *http.Request) task.Key {
	return task.Key{Target: chi.URLParam(r, "target"), TaskID: chi.URLParam(r, "task")}
}

func wait(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return v
}

func readDefinition(w http.ResponseWriter, r *http.Request) (task.Definition, bool) {
	def, ok := readJSON[task.Definition](w, r)
	if !ok {
		return def, false
	}
	if def.ID == "" {
		def.ID = chi.URLParam(r, "task")
	}
	if err := def.Normalize().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return def, false
	}
	return def, true
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
