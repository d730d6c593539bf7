package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/compute"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/eventlog"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/share"
)

const (
	maxInboxBody    = 512 << 20
	defaultLogLimit = 50
	maxLogLimit     = 1000
	maxJobBody      = 4 << 10
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleInbox handles POST /inbox
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	msg, err := s.inbox.Receive(r.Context(), raw, r.Header.Get(federation.BusinessKeyHeader))
	switch {
	case err == nil:
	case errors.Is(err, federation.ErrPrincipalNotFound):
		writeError(w, http.StatusNotFound, federation.PrincipalNotFoundMessage)
		return
	case fedErrors.HasCode(err, fedErrors.ErrCodeMalformedPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Error().Err(err).Msg("failed to store inbox message")
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	w.Header().Set("Location", federation.MessageLocation(msg.ID))
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: msg.ID})
}

// handleMessage handles GET /message/{id}
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, err := cast.ToUintE(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, err := s.inbox.Get(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		ID:         msg.ID,
		CreatedAt:  msg.CreatedAt,
		Sender:     msg.SenderID,
		Recipient:  msg.RecipientID,
		Message:    json.RawMessage(msg.Payload),
		Processed:  msg.Processed,
		Processing: msg.Processing,
		Tries:      msg.Tries,
		Error:      msg.Error,
	})
}

// handleDownload handles GET /download/{token}
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		http.NotFound(w, r)
		return
	}
	file, err := s.downloads.Redeem(r.Context(), mux.Vars(r)["token"])
	if errors.Is(err, share.ErrTokenUnusable) {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to redeem download token")
		writeError(w, http.StatusInternalServerError, "failed to redeem token")
		return
	}
	if file.Path == "" {
		writeError(w, http.StatusNotFound, "file has no local content")
		return
	}
	f, err := os.Open(file.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file content not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat file")
		return
	}

	name := file.OriginalFilename
	if name == "" {
		name = filepath.Base(file.Path)
	}
	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleLogs handles GET /logs?limit=<n>
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := s.events.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	out := make([]LogResponse, len(logs))
	for i := range logs {
		out[i] = LogResponse{
			EventDate: logs[i].EventDate,
			Action:    logs[i].Action,
			Actor:     logs[i].ActorIdentifier,
			EventID:   logs[i].EventID,
			MessageID: logs[i].MessageID,
			Text:      eventlog.HumanReadable(&logs[i]),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleJobSubmit handles POST /jobs/{id}/submit
func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.NotFound(w, r)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.jobs.Submit(r.Context(), id); err != nil {
		s.writeJobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{Execution: id, Status: compute.StatusSubmitted})
}

// handleJobFinished handles POST /jobs/{id}/finished
func (s *Server) handleJobFinished(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.NotFound(w, r)
		return
	}
	id := mux.Vars(r)["id"]
	var req JobFinishedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJobBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.jobs.JobFinished(r.Context(), id, req.Status); err != nil {
		s.writeJobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Execution: id, Status: req.Status})
}

func (s *Server) writeJobError(w http.ResponseWriter, id string, err error) {
	switch {
	case fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference):
		writeError(w, http.StatusNotFound, "execution not found")
	case fedErrors.HasCode(err, fedErrors.ErrCodeValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case fedErrors.HasCode(err, fedErrors.ErrCodeDatabase):
		s.logger.Error().Err(err).Str("execution", id).Msg("failed to update execution")
		writeError(w, http.StatusInternalServerError, "failed to update execution")
	default:
		s.logger.Warn().Err(err).Str("execution", id).Msg("compute backend rejected execution")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
