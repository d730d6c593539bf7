package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

// NodeContent is the content of a node announcement.
type NodeContent struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"node_name"`
	CommonName  string `json:"common_name,omitempty"`
	Address     string `json:"address"`
	APIAddress  string `json:"api_address"`
	CDNAddress  string `json:"cdn_address,omitempty"`
	DID         string `json:"did,omitempty"`
	Fingerprint string `json:"certificate_thumbprint,omitempty"`
}

// ProfileContent is the content of a profile announcement.
type ProfileContent struct {
	Identifier    string            `json:"identifier"`
	HumanReadable string            `json:"human_readable"`
	Organization  string            `json:"organization,omitempty"`
	Identity      string            `json:"identity,omitempty"`
	EthAddress    string            `json:"eth_address,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
}

// ProjectContent is the content of a project message.
type ProjectContent struct {
	ID          string `json:"id,omitempty"`
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// Fingerprint is the base58 BLAKE3 digest of a ledger address.
func Fingerprint(address string) string {
	sum := blake3.Sum256([]byte(strings.ToLower(address)))
	return base58.Encode(sum[:])
}

// Directory resolves and imports federation peers and principals.
type Directory struct {
	database *db.DB
	logger   zerolog.Logger
}

func NewDirectory(database *db.DB, logger zerolog.Logger) *Directory {
	return &Directory{
		database: database,
		logger:   logger.With().Str("component", "directory").Logger(),
	}
}

// ProfileOnNode finds the profile identifier bound to the node nodeIdentifier.
func ProfileOnNode(tx *gorm.DB, identifier, nodeIdentifier string) (*store.Profile, error) {
	var p store.Profile
	err := tx.Joins("JOIN nodes ON nodes.id = profiles.node_id").
		Where("profiles.identifier = ? AND nodes.identifier = ?", identifier, nodeIdentifier).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewUnresolvedReferenceError("directory", "principal", identifier).
			WithContext("node", nodeIdentifier)
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to resolve profile", err)
	}
	return &p, nil
}

// Profile loads a profile by identifier.
func (d *Directory) Profile(ctx context.Context, identifier string) (*store.Profile, error) {
	var p store.Profile
	err := d.database.WithContext(ctx).Where("identifier = ?", identifier).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewUnresolvedReferenceError("directory", "principal", identifier)
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load profile", err)
	}
	return &p, nil
}

// ProfileByID loads a profile by local key.
func (d *Directory) ProfileByID(ctx context.Context, id string) (*store.Profile, error) {
	var p store.Profile
	if err := d.database.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load profile "+id, err)
	}
	return &p, nil
}

// Node loads a node by identifier.
func (d *Directory) Node(ctx context.Context, identifier string) (*store.Node, error) {
	var n store.Node
	err := d.database.WithContext(ctx).Where("identifier = ?", identifier).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewUnresolvedReferenceError("directory", "node", identifier)
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load node", err)
	}
	return &n, nil
}

// NodeOf returns the node a profile is bound to.
func (d *Directory) NodeOf(ctx context.Context, p *store.Profile) (*store.Node, error) {
	if p.NodeID == nil {
		return nil, fedErrors.NewUnresolvedReferenceError("directory", "node of profile", p.Identifier)
	}
	var n store.Node
	if err := d.database.WithContext(ctx).First(&n, "id = ?", *p.NodeID).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load node of "+p.Identifier, err)
	}
	return &n, nil
}

// EnsureNode creates or updates the node with the given identity.
func (d *Directory) EnsureNode(ctx context.Context, c NodeContent) (*store.Node, error) {
	if c.Identifier == "" {
		return nil, fedErrors.NewValidationError("directory", "node identifier is required")
	}
	var n store.Node
	err := d.database.WithContext(ctx).Where("identifier = ?", c.Identifier).First(&n).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load node", err)
	}

	n.Identifier = c.Identifier
	if c.Name != "" {
		n.Name = c.Name
	}
	if c.APIAddress != "" {
		n.APIAddress = c.APIAddress
	}
	if c.Address != "" {
		n.Address = c.Address
		n.Fingerprint = Fingerprint(c.Address)
	}
	if err := d.database.WithContext(ctx).Save(&n).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to save node", err)
	}
	return &n, nil
}

// EnsureProfile returns the profile, creating it bound to node when missing.
// Profiles created here are marked as placeholders.
func EnsureProfile(tx *gorm.DB, identifier string, nodeID *string) (*store.Profile, error) {
	var p store.Profile
	err := tx.Where("identifier = ?", identifier).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load profile %s: %w", identifier, err)
	}
	p = store.Profile{Identifier: identifier, NodeID: nodeID, Placeholder: true}
	if err := tx.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to create placeholder profile %s: %w", identifier, err)
	}
	return &p, nil
}

// ImportNode handles a node announcement.
func (d *Directory) ImportNode(ctx context.Context, env *Envelope) (*store.Node, error) {
	var c NodeContent
	if err := env.DecodeContent(&c); err != nil {
		return nil, err
	}
	n, err := d.EnsureNode(ctx, c)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Str("node", n.Identifier).Msg("node imported")
	return n, nil
}

// ImportProfile handles a profile announcement. A create binds the profile
// to the announcing node, which must already be known; an update of an
// unknown profile is ignored.
func (d *Directory) ImportProfile(ctx context.Context, env *Envelope) (*store.Profile, error) {
	var c ProfileContent
	if err := env.DecodeContent(&c); err != nil {
		return nil, err
	}
	if c.Identifier == "" {
		return nil, fedErrors.NewValidationError("directory", "profile identifier is required")
	}

	var p store.Profile
	err := d.database.WithContext(ctx).Where("identifier = ?", c.Identifier).First(&p).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewDatabaseError("directory", "failed to load profile", err)
	}

	switch env.Type {
	case EnvelopeCreate:
		node, err := d.Node(ctx, env.From)
		if err != nil {
			return nil, err
		}
		p.Identifier = c.Identifier
		p.NodeID = &node.ID
		p.Placeholder = false
		if !exists || c.HumanReadable != "" {
			p.Display = c.HumanReadable
		}
	case EnvelopeUpdate:
		if !exists {
			d.logger.Warn().Str("profile", c.Identifier).Msg("profile can not be updated because it does not exist")
			return nil, nil
		}
		p.Display = c.HumanReadable
	default:
		return nil, fedErrors.NewValidationError("directory", fmt.Sprintf("unsupported profile envelope %q", env.Type))
	}
	p.Organization = c.Organization

	if err := d.database.WithContext(ctx).Save(&p).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to save profile", err)
	}
	d.logger.Info().Str("profile", p.Identifier).Str("type", string(env.Type)).Msg("profile imported")
	return &p, nil
}

// ImportProject creates or updates a project announced by a peer.
func (d *Directory) ImportProject(ctx context.Context, env *Envelope) (*store.Project, error) {
	var c ProjectContent
	if err := env.DecodeContent(&c); err != nil {
		return nil, err
	}
	if c.Identifier == "" {
		return nil, fedErrors.NewValidationError("directory", "project identifier is required")
	}

	var project store.Project
	err := d.database.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("identifier = ?", c.Identifier).First(&project).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		project.Identifier = c.Identifier
		project.Name = c.Name
		project.Description = c.Description
		if c.Origin != "" {
			origin, err := EnsureProfile(tx, c.Origin, nil)
			if err != nil {
				return err
			}
			project.OriginID = &origin.ID
		}
		return tx.Save(&project).Error
	})
	if err != nil {
		return nil, fedErrors.NewDatabaseError("directory", "failed to import project", err)
	}
	return &project, nil
}

// Allow puts sender on the allow-list of recipient.
func (d *Directory) Allow(ctx context.Context, recipient, sender string) error {
	p, err := d.Profile(ctx, recipient)
	if err != nil {
		return err
	}
	if p.Allows(sender) {
		return nil
	}
	p.CommunicationAllowedWith = append(p.CommunicationAllowedWith, sender)
	if err := d.database.WithContext(ctx).Model(p).Update("communication_allowed_with", p.CommunicationAllowedWith).Error; err != nil {
		return fedErrors.NewDatabaseError("directory", "failed to update allow-list", err)
	}
	return nil
}
