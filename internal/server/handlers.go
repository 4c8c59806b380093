package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/audioarchitect/internal/formatter"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/go-chi/chi/v5"
)

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrLeaseHeld),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, shared.ErrStale):
		return http.StatusPreconditionFailed
	case errors.Is(err, shared.ErrInvalidPolicy),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) platformNames() []models.Platform {
	if s.platforms == nil {
		return []models.Platform{}
	}
	return s.platforms.Available()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"api": "online"}
	for _, p := range s.platformNames() {
		services[string(p)] = "available"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "audioarchitect",
		"version":  s.cfg.Version,
		"services": services,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "AudioArchitect",
		"version": s.cfg.Version,
		"tagline": "Build Your Perfect Music Library",
		"status":  "online",
	})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.platformNames()})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.cfg.Groups
	if groups == nil {
		groups = []models.SyncGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) group(id string) (models.SyncGroup, bool) {
	for _, g := range s.cfg.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return models.SyncGroup{}, false
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Sessions()})
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"group_id"`
		Policy  string `json:"policy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	group, ok := s.group(body.GroupID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group "+strconv.Quote(body.GroupID))
		return
	}
	policy := models.Policy(body.Policy)
	if policy == "" {
		policy = s.cfg.DefaultPolicy
	}

	handle, err := s.sessions.StartSync(r.Context(), group, policy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := s.sessions.Status(handle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("sync started", "session", handle, "group", group.ID, "policy", policy)
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": handle, "state": status.State})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Status(tasks.SessionHandle(chi.URLParam(r, "id")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	handle := tasks.SessionHandle(chi.URLParam(r, "id"))
	if err := s.sessions.ApprovePlan(r.Context(), handle); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondStatus(w, r, handle, http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	handle := tasks.SessionHandle(chi.URLParam(r, "id"))
	if err := s.sessions.Cancel(handle); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondStatus(w, r, handle, http.StatusOK)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keep *bool `json:"keep"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Keep == nil {
		writeError(w, http.StatusBadRequest, `body must be {"keep": true|false}`)
		return
	}

	handle := tasks.SessionHandle(chi.URLParam(r, "id"))
	if err := s.sessions.ResolveConflict(r.Context(), handle, chi.URLParam(r, "fingerprint"), *body.Keep); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondStatus(w, r, handle, http.StatusOK)
}

func (s *Server) respondStatus(w http.ResponseWriter, r *http.Request, handle tasks.SessionHandle, code int) {
	status, err := s.sessions.Status(handle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, code, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	format, err := formatter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.snapshots.ByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format != formatter.JSON {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(
			string(snap.Platform)+"_"+snap.PlaylistID+"_r"+strconv.FormatInt(snap.Revision, 10)+"."+format.Extension()))
	}
	if err := formatter.WriteSnapshot(w, *snap, format); err != nil {
		s.logger.Error("failed to write snapshot", "snapshot", snap.ID, "error", err)
	}
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	threshold := s.cfg.DuplicateThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be a number between 0 and 1")
			return
		}
		threshold = v
	}

	start := time.Now()
	snap, groups, err := s.sessions.FindDuplicates(r.Context(), chi.URLParam(r, "id"), threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}
	s.logger.Debug("scanned for duplicates", "snapshot", snap.ID, "groups", len(groups), "took", time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"snapshot_id": snap.ID, "threshold": threshold, "groups": groups})
}
