// Package identifier builds and parses global identifiers of the form
// "<node-identifier>#<type>::<uuid>". Identifiers are the idempotency key of
// every entity exchanged between nodes.
package identifier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const separator = "#"

// Common entity types used in identifiers.
const (
	TypeProject        = "project"
	TypeUser           = "user"
	TypeCase           = "case"
	TypeCodeSystem     = "codesystem"
	TypeFile           = "file"
	TypeDataset        = "dataset"
	TypeShare          = "share"
	TypeShareToken     = "share_token"
	TypeEvaluationCode = "evaluation-code"
	TypeSubmission     = "submission"
	TypeSubmissionPart = "submission-part"
	TypeExtraData      = "extra-data"
	TypeLog            = "log"
)

// Generator creates identifiers owned by one node.
type Generator struct {
	node string
	uuid func() string
}

// NewGenerator returns a Generator for the given node identifier.
func NewGenerator(node string) *Generator {
	return &Generator{node: node, uuid: uuid.NewString}
}

// Node returns the node identifier this generator stamps.
func (g *Generator) Node() string {
	return g.node
}

// CreateRandom returns "<node>#<type>::<uuid4>".
func (g *Generator) CreateRandom(kind string) string {
	return CreateRandom(g.node, kind, g.uuid())
}

// Create returns "<node>#<value>".
func (g *Generator) Create(value string) string {
	return g.node + separator + value
}

// CreateRandom formats an identifier from its parts.
func CreateRandom(node, kind, id string) string {
	return fmt.Sprintf("%s%s%s::%s", node, separator, kind, id)
}

// FromString normalises "system#value". Strings without a separator are returned
// unchanged; more than one separator is invalid.
func FromString(s string) (string, error) {
	if !strings.Contains(s, separator) {
		return s, nil
	}
	parts := strings.Split(s, separator)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid identifier %q: expected one %q", s, separator)
	}
	return strings.TrimSpace(parts[0]) + separator + strings.TrimSpace(parts[1]), nil
}

// FromCommonName converts a certificate common name "a.b.c.d" into "c.d#b::a".
func FromCommonName(cn string) (string, error) {
	labels := strings.Split(cn, ".")
	if len(labels) < 3 {
		return "", fmt.Errorf("invalid common name %q: expected at least 3 labels", cn)
	}
	system := strings.Join(labels[2:], ".")
	return fmt.Sprintf("%s%s%s::%s", system, separator, labels[1], labels[0]), nil
}

// Parts splits an identifier into node, type and value. Identifiers without a
// type prefix return an empty kind.
func Parts(id string) (node, kind, value string, err error) {
	norm, err := FromString(id)
	if err != nil {
		return "", "", "", err
	}
	i := strings.Index(norm, separator)
	if i < 0 {
		return "", "", norm, nil
	}
	node, rest := norm[:i], norm[i+1:]
	if j := strings.Index(rest, "::"); j >= 0 {
		return node, rest[:j], rest[j+2:], nil
	}
	return node, "", rest, nil
}
