package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreatedResponse is returned for an accepted inbox message.
type CreatedResponse struct {
	ID uint `json:"id"`
}

// MessageResponse is one stored inbox message with its bookkeeping.
type MessageResponse struct {
	ID         uint            `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Sender     string          `json:"sender"`
	Recipient  *string         `json:"recipient,omitempty"`
	Message    json.RawMessage `json:"message"`
	Processed  bool            `json:"processed"`
	Processing bool            `json:"processing"`
	Tries      int             `json:"tries"`
	Error      string          `json:"error,omitempty"`
}

// JobFinishedRequest is the status callback of the compute backend.
type JobFinishedRequest struct {
	Status string `json:"status"`
}

// JobResponse acknowledges a job submission or status update.
type JobResponse struct {
	Execution string `json:"execution"`
	Status    string `json:"status"`
}

// LogResponse is one event log entry with its rendered sentence.
type LogResponse struct {
	EventDate time.Time `json:"event_date"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	EventID   string    `json:"event_id"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
}
