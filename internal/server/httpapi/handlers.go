package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/syncsvc"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type issueRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleIssueMagicLink(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "email is required"})
		return
	}

	if err := s.auth.Issue(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "magic link sent"})
}

type verifyRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "token is required"})
		return
	}

	result, err := s.auth.Redeem(r.Context(), req.Token, session.DeviceInfo{
		UserAgent: r.UserAgent(),
		DeviceID:  req.DeviceID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sessionInfoResponse struct {
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	Tier       string    `json:"tier"`
	DeviceType string    `json:"deviceType"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		Email:      p.user.Email,
		FirstName:  p.user.FirstName,
		Tier:       p.user.Tier,
		DeviceType: p.session.DeviceType,
		ExpiresAt:  p.session.ExpiresAt,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	list, err := s.sessions.List(r.Context(), p.user.Email, p.session.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleLogout signs out every device at once. Per-device logout is just
// discarding the token client side; server-side revocation is all or
// nothing.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	if err := s.sessions.RevokeAll(r.Context(), p.user.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "all sessions revoked"})
}

func (s *Server) handleSyncMeta(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	meta, err := s.sync.Meta(r.Context(), p.user.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	doc, err := s.sync.Pull(r.Context(), p.user.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type pushRequest struct {
	Data *appdata.Data `json:"data"`
	// BaseVersion makes the push conditional. Omitted means last push wins.
	BaseVersion *int64 `json:"baseVersion,omitempty"`
	Force       bool   `json:"force,omitempty"`
	Initial     bool   `json:"initial,omitempty"`
}

func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "data is required"})
		return
	}

	meta, err := s.sync.Push(r.Context(), p.user.Email, req.Data, syncsvc.PushOptions{
		BaseVersion: req.BaseVersion,
		Force:       req.Force,
		Initial:     req.Initial,
		DeviceType:  p.session.DeviceType,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	tasks, err := s.sync.ListTasks(r.Context(), p.user.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type addTaskRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}

	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "text is required"})
		return
	}

	task, err := s.sync.AddTask(r.Context(), p.user.Email, req.Text, req.Type, p.session.DeviceType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type updateTaskRequest struct {
	Text      *string `json:"text,omitempty"`
	Type      *string `json:"type,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid task id"})
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	task, err := s.sync.UpdateTask(r.Context(), p.user.Email, id, p.session.DeviceType,
		func(t *appdata.Task) {
			if req.Text != nil {
				t.Text = *req.Text
			}
			if req.Type != nil && (*req.Type == appdata.TaskTypeSignal || *req.Type == appdata.TaskTypeNoise) {
				t.Type = *req.Type
			}
			if req.Completed != nil {
				t.Completed = *req.Completed
			}
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, common.ErrSessionInvalid)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid task id"})
		return
	}

	if err := s.sync.DeleteTask(r.Context(), p.user.Email, id, p.session.DeviceType); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
