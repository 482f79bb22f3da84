package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/store"
)

// SessionHandler starts, confirms and cancels capture sessions and serves
// the session journal. Sessions run on their own goroutine.
type SessionHandler struct {
	curator  *app.Curator
	defaults sampling.Params
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	session *sampling.Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewSessionHandler creates a SessionHandler. defaults fills the sample
// count and threshold a start request leaves out.
func NewSessionHandler(curator *app.Curator, defaults sampling.Params, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		curator:  curator,
		defaults: defaults,
		logger:   logger.With("component", "api"),
		runs:     make(map[string]*run),
	}
}

type startSessionRequest struct {
	Label      string   `json:"label"`
	MaxSamples int      `json:"max_samples"`
	Threshold  *float64 `json:"threshold"`
}

type confirmSessionRequest struct {
	Keep bool `json:"keep"`
}

type sessionResponse struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	State  string         `json:"state"`
	Target int            `json:"target"`
	Stats  sampling.Stats `json:"stats"`
	Error  string         `json:"error,omitempty"`
	Entry  *dataset.Entry `json:"entry,omitempty"`
}

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

func toResponse(s *sampling.Session) sessionResponse {
	resp := sessionResponse{
		ID:     s.ID(),
		Label:  s.Params().Label,
		State:  s.State().String(),
		Target: s.Params().MaxSamples,
		Stats:  s.Stats(),
	}
	if err := s.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// List handles GET /api/sessions and returns the journal, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	st := h.curator.Store()
	if st == nil {
		writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: []*store.Session{}})
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := st.Sessions().List(limit)
	if err != nil {
		h.logger.Error("list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

// Start handles POST /api/sessions.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	params := h.defaults
	params.Label = req.Label
	if req.MaxSamples != 0 {
		params.MaxSamples = req.MaxSamples
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}

	s, err := h.curator.Start(params)
	switch {
	case errors.Is(err, sampling.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, app.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, app.ErrNoSource):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("start session", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{session: s, cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.runs[s.ID()] = rn
	h.mu.Unlock()

	go func() {
		defer close(rn.done)
		defer cancel()
		rn.err = h.curator.Run(ctx, s)
		if rn.err != nil {
			h.logger.Error("session failed", "session", s.ID(), "error", rn.err)
		}
		if s.State() != sampling.Completed {
			h.forget(s.ID())
		}
	}()

	writeJSON(w, http.StatusAccepted, toResponse(s))
}

// Get handles GET /api/sessions/{id} for a session that has not been
// finished yet.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rn, ok := h.lookup(r.PathValue("id"))
	if !ok {
		h.journaled(w, r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rn.session))
}

func (h *SessionHandler) journaled(w http.ResponseWriter, id string) {
	st := h.curator.Store()
	if st == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	rec, err := st.Sessions().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Confirm handles POST /api/sessions/{id}/confirm with {"keep": bool}.
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rn, ok := h.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req confirmSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	entry, err := h.curator.Finish(r.Context(), rn.session, req.Keep)
	if errors.Is(err, sampling.ErrInvalidState) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.forget(id)
	if err != nil {
		h.logger.Error("finish session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to persist session")
		return
	}

	resp := toResponse(rn.session)
	resp.Entry = entry
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /api/sessions/{id}. A running session is
// cancelled and awaited; a completed one is discarded.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rn, ok := h.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	rn.cancel()
	select {
	case <-rn.done:
	case <-r.Context().Done():
		return
	}

	if rn.session.State() == sampling.Completed {
		if _, err := h.curator.Finish(r.Context(), rn.session, false); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	h.forget(id)

	writeJSON(w, http.StatusOK, toResponse(rn.session))
}

// Wait blocks until the session's capture loop has returned. It is used
// by tests and shutdown.
func (h *SessionHandler) Wait(id string) {
	if rn, ok := h.lookup(id); ok {
		<-rn.done
	}
}

// Shutdown cancels every running session and waits for it.
func (h *SessionHandler) Shutdown() {
	h.mu.Lock()
	runs := make([]*run, 0, len(h.runs))
	for _, rn := range h.runs {
		runs = append(runs, rn)
	}
	h.mu.Unlock()

	for _, rn := range runs {
		rn.cancel()
		<-rn.done
	}
}

func (h *SessionHandler) lookup(id string) (*run, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rn, ok := h.runs[id]
	return rn, ok
}

func (h *SessionHandler) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.runs, id)
}
