package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/teng-lin/beamcode/internal/session"
	"github.com/teng-lin/beamcode/pkg/types"
)

// sessionView is the admin API's session shape.
type sessionView struct {
	types.SessionInfo
	State     string `json:"state"`
	Consumers int    `json:"consumers"`
}

func (s *Server) view(sess *session.Session) sessionView {
	v := sessionView{
		SessionInfo: sess.Info(),
		State:       string(sess.State()),
	}
	if rt, ok := s.bridge.Runtime(sess.ID()); ok {
		v.Consumers = rt.ConsumerCount()
	}
	return v
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.bridge.Sessions()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.view(sess))
	}
	writeJSON(w, http.StatusOK, views)
}

type createSessionRequest struct {
	Cwd            string         `json:"cwd"`
	Model          string         `json:"model,omitempty"`
	AdapterName    string         `json:"adapterName"`
	PermissionMode string         `json:"permissionMode,omitempty"`
	AdapterOptions map[string]any `json:"adapterOptions,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.AdapterName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "adapterName is required")
		return
	}

	sess, err := s.bridge.CreateSession(r.Context(), session.CreateRequest{
		Cwd:            req.Cwd,
		Model:          req.Model,
		AdapterName:    req.AdapterName,
		PermissionMode: req.PermissionMode,
		AdapterOptions: req.AdapterOptions,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unknown adapter") {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, s.view(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.bridge.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.bridge.Get(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	s.bridge.DeleteSession(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) getSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.bridge.Get(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	var lines []string
	if s.launcher != nil {
		lines = s.launcher.Logs(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) archiveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.bridge.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	var body struct {
		Archived bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess.SetArchived(body.Archived)
	writeJSON(w, http.StatusOK, s.view(sess))
}
