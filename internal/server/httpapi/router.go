package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/auth/magic-link", s.handleIssueMagicLink).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", s.handleVerifyMagicLink).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)

	authed.HandleFunc("/auth/session", s.handleSessionInfo).Methods(http.MethodGet)
	authed.HandleFunc("/auth/sessions", s.handleListSessions).Methods(http.MethodGet)
	authed.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	authed.HandleFunc("/sync/meta", s.handleSyncMeta).Methods(http.MethodGet)
	authed.HandleFunc("/sync", s.handleSyncPull).Methods(http.MethodGet)
	authed.HandleFunc("/sync", s.handleSyncPush).Methods(http.MethodPost)

	authed.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	authed.HandleFunc("/tasks", s.handleAddTask).Methods(http.MethodPost)
	authed.HandleFunc("/tasks/{id:[0-9]+}", s.handleUpdateTask).Methods(http.MethodPut)
	authed.HandleFunc("/tasks/{id:[0-9]+}", s.handleDeleteTask).Methods(http.MethodDelete)

	return r
}
