package eventlog

import (
	"encoding/json"
	"fmt"
)

// Actions a log message may declare.
const (
	ActionShare          = "share"
	ActionUse            = "use"
	ActionAdd            = "add"
	ActionCreate         = "create"
	ActionTest           = "test"
	ActionExport         = "export"
	ActionDownload       = "download"
	ActionSubmissionSent = "submission-sent"
	ActionShareReceive   = "SHARE_RECEIVE"
)

// Identifiable references an entity on some node.
type Identifiable struct {
	Identifier string `json:"identifier"`
	Display    string `json:"display,omitempty"`
	Model      string `json:"model,omitempty"`
}

type Actor struct {
	Identifiable
	Organization string `json:"organization,omitempty"`
}

type Object struct {
	Model string          `json:"model,omitempty"`
	Value json.RawMessage `json:"value"`
}

// Message is the body of one item of a broadcast payload.
type Message struct {
	Action  string                  `json:"action"`
	Actor   Actor                   `json:"actor"`
	Context map[string]Identifiable `json:"context,omitempty"`
	Object  Object                  `json:"object"`
}

// Schema describes the accepted shape of one action.
type Schema struct {
	Action string
	// Models restricts object.model; empty accepts any model.
	Models []string
}

var (
	identifiableModels = []string{"node", "project", "dataset", "challenge", "user", "submission"}
	objectModels       = append(append([]string{}, identifiableModels...), "slide", "file")
)

var schemas = map[string]Schema{
	ActionShare:          {Action: ActionShare, Models: objectModels},
	ActionUse:            {Action: ActionUse, Models: objectModels},
	ActionAdd:            {Action: ActionAdd, Models: objectModels},
	ActionCreate:         {Action: ActionCreate, Models: objectModels},
	ActionTest:           {Action: ActionTest},
	ActionExport:         {Action: ActionExport, Models: objectModels},
	ActionDownload:       {Action: ActionDownload, Models: objectModels},
	ActionSubmissionSent: {Action: ActionSubmissionSent, Models: objectModels},
	ActionShareReceive:   {Action: ActionShareReceive},
}

// SchemaFor returns the schema of action.
func SchemaFor(action string) (Schema, bool) {
	s, ok := schemas[action]
	return s, ok
}

// Validate checks m against the schema.
func (s Schema) Validate(m *Message) error {
	if m.Action == "" {
		return fmt.Errorf("action is required")
	}
	if m.Action != s.Action {
		return fmt.Errorf("action %q does not match schema %q", m.Action, s.Action)
	}
	if m.Actor.Identifier == "" {
		return fmt.Errorf("actor identifier is required")
	}
	if len(s.Models) > 0 && m.Object.Model != "" && !contains(s.Models, m.Object.Model) {
		return fmt.Errorf("object model %q not allowed for action %q", m.Object.Model, m.Action)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
