package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/engine"
	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
	"github.com/rcliao/reflex/internal/patterns"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"patterns": s.engine.Store().Snapshot().Len(),
	})
}

type respondRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type respondResponse struct {
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Stage     model.Stage `json:"stage"`
	PatternID string      `json:"pattern_id,omitempty"`
	LatencyMs float64     `json:"latency_ms"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with an input field")
		return
	}
	sess := s.sessions.get(req.SessionID)
	resp := sess.Respond(r.Context(), req.Input)
	writeJSON(w, http.StatusOK, respondResponse{
		SessionID: sess.ID,
		Text:      resp.Text,
		Stage:     resp.Stage,
		PatternID: resp.PatternID,
		LatencyMs: float64(resp.Latency) / float64(time.Millisecond),
	})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatternsList(w http.ResponseWriter, r *http.Request) {
	origin := model.Origin(r.URL.Query().Get("origin"))
	category := model.Category(r.URL.Query().Get("category"))

	out := []model.Pattern{}
	for _, p := range s.engine.Store().Snapshot().Patterns() {
		if origin != "" && p.Origin != origin {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": out, "count": len(out)})
}

type addPatternRequest struct {
	Pattern  string `json:"pattern"`
	Response string `json:"response"`
	Category string `json:"category"`
}

func (s *Server) handlePatternAdd(w http.ResponseWriter, r *http.Request) {
	var req addPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	category, err := normalize.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	p, err := s.engine.AddPattern(r.Context(), req.Pattern, req.Response, category)
	switch {
	case errors.Is(err, engine.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	log.Info().Str("pattern_id", p.ID).Str("pattern", p.Source).Msg("pattern added over http")
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePatternGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.engine.Store().Snapshot().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "pattern not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePatternRemove(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RemovePattern(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, patterns.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, patterns.ErrImmutable):
		writeError(w, http.StatusForbidden, "immutable", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePatternsReload(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ReloadDynamicPatterns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	errs := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		errs = append(errs, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":  report.Loaded,
		"skipped": report.Skipped,
		"errors":  errs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var sess *engine.Session
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		found, ok := s.sessions.lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		sess = found
	}
	writeJSON(w, http.StatusOK, s.engine.Statistics(sess))
}
