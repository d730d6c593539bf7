package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/inbox", s.handleInbox).Methods(http.MethodPost)
	r.HandleFunc("/message/{id:[0-9]+}", s.handleMessage).Methods(http.MethodGet)
	r.HandleFunc("/download/{token}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/submit", s.handleJobSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/finished", s.handleJobFinished).Methods(http.MethodPost)

	return r
}
