package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/centauron/federation-node/federationClient/store"
)

// HumanReadable renders a log entry as one sentence for activity feeds.
// Entries that cannot be rendered produce a "Could not decode" line.
func HumanReadable(l *store.Log) string {
	var obj Object
	if err := json.Unmarshal(l.Object, &obj); err != nil {
		return fmt.Sprintf("Could not decode: %v", err)
	}
	var ctx map[string]Identifiable
	if len(l.Context) > 0 {
		_ = json.Unmarshal(l.Context, &ctx)
	}

	actor := l.ActorDisplay
	if actor == "" {
		actor = l.ActorIdentifier
	}

	switch obj.Model {
	case "user":
		return fmt.Sprintf("User %s joined the network.", valueDisplay(obj.Value))
	case "node":
		return fmt.Sprintf("Hello, node %s!", actor)
	}

	var words []string
	switch l.Action {
	case ActionCreate:
		words = append(words, "created")
	case ActionAdd:
		words = append(words, "added")
	}

	switch obj.Model {
	case "project", "challenge":
		words = append(words, obj.Model, valueDisplay(obj.Value))
	case "dataset":
		words = append(words, "dataset", valueDisplay(obj.Value), "in challenge "+ctx["challenge"].Display)
	case "submission":
		if l.Action == ActionSubmissionSent {
			words = append(words, fmt.Sprintf("sent submission %s to challenge %s", valueName(obj.Value), ctx["challenge"].Display))
		}
	case "slide":
		n := valueLen(obj.Value)
		switch l.Action {
		case ActionCreate:
			words = []string{"added", fmt.Sprint(n), "slides to project " + ctx["project"].Display}
		case ActionAdd:
			words = append(words, fmt.Sprint(n), fmt.Sprintf("slides to dataset %s in challenge %s", ctx["dataset"].Display, ctx["challenge"].Display))
		case ActionUse:
			words = append(words, fmt.Sprintf("used %d slides to run submission %s in challenge %s", n, ctx["submission"].Display, ctx["challenge"].Display))
		}
	case "file":
		n := valueLen(obj.Value)
		noun := "files"
		if n == 1 {
			noun = "file"
		}
		words = append(words, "exported", fmt.Sprint(n), noun)
	}

	if len(words) == 0 {
		return fmt.Sprintf("Could not decode: %s %s %s", l.Action, obj.Model, string(l.RawMessage))
	}
	words = append([]string{actor}, words...)
	words[len(words)-1] += "."
	return strings.Join(words, " ")
}

func valueDisplay(raw json.RawMessage) string {
	var v Identifiable
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	if v.Display != "" {
		return v.Display
	}
	return v.Identifier
}

func valueName(raw json.RawMessage) string {
	var v struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.Name
}

func valueLen(raw json.RawMessage) int {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return 0
	}
	return len(list)
}
