// Package federation implements the point-to-point message bus between
// nodes: envelopes, the outbox with its delivery backends, the inbox with
// its dispatch table, and the federation directory of nodes and profiles.
package federation

import (
	"encoding/json"
	"fmt"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

// EnvelopeType is the verb of an envelope.
type EnvelopeType string

const (
	EnvelopeCreate EnvelopeType = "create"
	EnvelopeUpdate EnvelopeType = "update"
	EnvelopeDelete EnvelopeType = "delete"
	EnvelopeAck    EnvelopeType = "ack"
	EnvelopeTest   EnvelopeType = "test"
)

func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeCreate, EnvelopeUpdate, EnvelopeDelete, EnvelopeAck, EnvelopeTest:
		return true
	}
	return false
}

// ContentType is the declared type of an envelope object.
type ContentType string

const (
	ContentProfile                   ContentType = "profile"
	ContentNode                      ContentType = "node"
	ContentShare                     ContentType = "share"
	ContentRetractShare              ContentType = "retract-share"
	ContentSubmission                ContentType = "submission"
	ContentSubmissionResult          ContentType = "submission-result"
	ContentLeaderboard               ContentType = "leaderboard"
	ContentProjectInvitation         ContentType = "project-invitation"
	ContentProjectInvitationResponse ContentType = "project-invitation-response"
	ContentProject                   ContentType = "project"
	ContentGroundTruthSchema         ContentType = "ground-truth-schema"
	ContentTest                      ContentType = "test"
)

// ContentTypes is the closed set of content types with a dispatch entry.
var ContentTypes = []ContentType{
	ContentProfile,
	ContentNode,
	ContentShare,
	ContentRetractShare,
	ContentSubmission,
	ContentSubmissionResult,
	ContentLeaderboard,
	ContentProjectInvitation,
	ContentProjectInvitationResponse,
	ContentProject,
	ContentGroundTruthSchema,
}

// Object is the addressed body of an envelope.
type Object struct {
	Type        ContentType     `json:"type"`
	Sender      string          `json:"sender"`
	Recipient   *string         `json:"recipient"`
	Application string          `json:"application,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Envelope is the wire wrapper of every message. A nil To marks a broadcast.
type Envelope struct {
	Type   EnvelopeType `json:"type"`
	From   string       `json:"from"`
	To     *string      `json:"to"`
	Object *Object      `json:"object,omitempty"`
}

func (e *Envelope) IsBroadcast() bool {
	return e.To == nil
}

// DispatchKey is the application override when present, else the object type.
func (e *Envelope) DispatchKey() string {
	if e.Object == nil {
		return ""
	}
	if e.Object.Application != "" {
		return e.Object.Application
	}
	return string(e.Object.Type)
}

// DecodeContent unmarshals the object content into v.
func (e *Envelope) DecodeContent(v any) error {
	if e.Object == nil || len(e.Object.Content) == 0 {
		return fedErrors.NewMalformedPayloadError("envelope", "envelope has no content", nil)
	}
	if err := json.Unmarshal(e.Object.Content, v); err != nil {
		return fedErrors.NewMalformedPayloadError("envelope",
			fmt.Sprintf("invalid %s content", e.Object.Type), err)
	}
	return nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and checks an envelope.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fedErrors.NewMalformedPayloadError("envelope", "invalid envelope JSON", err)
	}
	if !env.Type.Valid() {
		return nil, fedErrors.NewMalformedPayloadError("envelope",
			fmt.Sprintf("unknown envelope type %q", env.Type), nil)
	}
	return &env, nil
}

// LooksLikeEnvelope reports whether raw is a JSON object carrying envelope
// keys rather than a broadcast topic payload.
func LooksLikeEnvelope(raw []byte) bool {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return false
	}
	_, hasObject := keys["object"]
	_, hasFrom := keys["from"]
	_, hasData := keys["data"]
	return (hasObject || hasFrom) && !hasData
}

func strPtr(s string) *string {
	return &s
}
