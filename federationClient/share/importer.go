package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/eventlog"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

const dataDirPermissions = 0o750

// ImporterOptions configures an Importer.
type ImporterOptions struct {
	// ServiceProfile owns imported rows when the envelope has no recipient.
	ServiceProfile string
	// DataDir receives the data files of submission parts.
	DataDir string
}

// Importer merges received share packages into local storage.
type Importer struct {
	database  *db.DB
	directory *federation.Directory
	writer    *eventlog.Writer
	ids       *identifier.Generator
	metrics   *metrics.Metrics
	opts      ImporterOptions
	logger    zerolog.Logger
}

func NewImporter(
	database *db.DB,
	directory *federation.Directory,
	writer *eventlog.Writer,
	ids *identifier.Generator,
	m *metrics.Metrics,
	opts ImporterOptions,
	logger zerolog.Logger,
) *Importer {
	return &Importer{
		database:  database,
		directory: directory,
		writer:    writer,
		ids:       ids,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("component", "share_importer").Logger(),
	}
}

// Handle is the inbox handler for share envelopes.
func (im *Importer) Handle(ctx context.Context, _ *store.InboxMessage, env *federation.Envelope) error {
	_, err := im.Import(ctx, env)
	return err
}

// Import merges the package carried by env in one transaction. Entities
// already known by identifier are updated in place; nothing is written when
// any step fails.
func (im *Importer) Import(ctx context.Context, env *federation.Envelope) (share *store.Share, err error) {
	start := time.Now()
	defer func() { im.metrics.ObserveImport(start, err) }()

	var content Content
	if err := env.DecodeContent(&content); err != nil {
		return nil, err
	}
	ident, err := identifier.FromString(content.Identifier)
	if err != nil || ident == "" {
		return nil, fedErrors.NewValidationError("share", "share identifier is missing or invalid")
	}
	content.Identifier = ident

	origin, err := im.directory.Profile(ctx, env.Object.Sender)
	if err != nil {
		return nil, err
	}
	createdBy, err := im.owner(ctx, env)
	if err != nil {
		return nil, err
	}

	st := &importState{
		origin:    origin,
		createdBy: createdBy,
		ids:       make(map[string]map[string]string),
		profiles:  map[string]string{origin.Identifier: origin.ID},
	}
	err = im.database.Transaction(ctx, func(tx *gorm.DB) error {
		if err := im.saveShare(tx, st, &content, env.Object.Content); err != nil {
			return err
		}
		for _, step := range importSteps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := step.run(im, tx, st, &content); err != nil {
				return fmt.Errorf("%s: %w", step.name, err)
			}
		}
		return nil
	})
	if err != nil {
		st.discardDataFiles()
		return nil, fedErrors.NewImportError("share", "failed to import share "+ident, err)
	}
	if err := st.publishDataFiles(); err != nil {
		return nil, fedErrors.NewImportError("share", "failed to publish data files of share "+ident, err)
	}

	im.logReceive(ctx, st)
	im.logger.Info().Str("share", ident).Str("origin", origin.Identifier).Msg("share imported")
	return st.share, nil
}

// owner resolves the local profile that receives ownership of imported rows.
func (im *Importer) owner(ctx context.Context, env *federation.Envelope) (*store.Profile, error) {
	if env.Object.Recipient != nil {
		return im.directory.Profile(ctx, *env.Object.Recipient)
	}
	if im.opts.ServiceProfile == "" {
		return nil, nil
	}
	p, err := im.directory.Profile(ctx, im.opts.ServiceProfile)
	if fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference) {
		return nil, nil
	}
	return p, err
}

func (im *Importer) saveShare(tx *gorm.DB, st *importState, c *Content, raw json.RawMessage) error {
	var s store.Share
	if err := tx.Where("identifier = ?", c.Identifier).First(&s).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if c.Project != "" {
		var p store.Project
		err := tx.Where("identifier = ?", c.Project).First(&p).Error
		switch {
		case err == nil:
			st.project = &p
			s.ProjectID = &p.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}
	s.Identifier = c.Identifier
	s.Name = c.Name
	s.Description = c.Description
	s.Type = c.Type
	s.Content = datatypes.JSON(raw)
	s.PreviousIdentifier = c.PreviousIdentifier
	s.GroundTruth = c.GroundTruth
	s.GroundTruthSchema = c.GroundTruthSchema
	s.OriginID = &st.origin.ID
	if st.createdBy != nil {
		s.CreatedByID = &st.createdBy.ID
	}
	if err := tx.Save(&s).Error; err != nil {
		return fmt.Errorf("failed to save share: %w", err)
	}
	st.share = &s
	return nil
}

// logReceive appends SHARE_RECEIVE once the import has committed.
func (im *Importer) logReceive(ctx context.Context, st *importState) {
	if im.writer == nil {
		return
	}
	value, _ := json.Marshal(map[string]string{"identifier": st.share.Identifier, "name": st.share.Name})
	msg := &eventlog.Message{
		Action: eventlog.ActionShareReceive,
		Actor: eventlog.Actor{Identifiable: eventlog.Identifiable{
			Identifier: st.origin.Identifier,
			Display:    st.origin.Display,
		}},
		Object: eventlog.Object{Model: "share", Value: value},
	}
	if st.project != nil {
		msg.Context = map[string]eventlog.Identifiable{
			"project": {Identifier: st.project.Identifier, Display: st.project.Name, Model: "project"},
		}
	}
	raw, _ := json.Marshal(msg)
	src := eventlog.Source{EventID: st.share.Identifier, MessageID: eventlog.ActionShareReceive}
	if _, err := im.writer.Append(ctx, msg, src, raw); err != nil {
		im.logger.Error().Err(err).Str("share", st.share.Identifier).Msg("failed to log share receipt")
	}
}

// writeDataFiles stages submission part data next to its final location
// DataDir/<share>/<stage>.data and returns the final paths. Staged files are
// renamed into place once the import has committed.
func (im *Importer) writeDataFiles(st *importState, shareID string, files map[string]string) (map[string]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if im.opts.DataDir == "" {
		return nil, fedErrors.NewConfigError("share", "no data directory configured for submission parts")
	}
	dir := filepath.Join(im.opts.DataDir, shareID)
	if err := os.MkdirAll(dir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	paths := make(map[string]string, len(files))
	for stage, data := range files {
		if stage == "" || stage != filepath.Base(stage) {
			return nil, fedErrors.NewValidationError("share", fmt.Sprintf("invalid data file stage %q", stage))
		}
		p := filepath.Join(dir, stage+".data")
		tmp, err := stageFile(dir, stage, data)
		if err != nil {
			return nil, fmt.Errorf("failed to write data file %s: %w", stage, err)
		}
		st.staged = append(st.staged, stagedFile{tmp: tmp, path: p})
		paths[stage] = p
	}
	return paths, nil
}

func stageFile(dir, stage, data string) (string, error) {
	f, err := os.CreateTemp(dir, stage+".data.*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Chmod(0o640); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type stagedFile struct {
	tmp  string
	path string
}

// publishDataFiles moves staged files to their final paths.
func (st *importState) publishDataFiles() error {
	for _, f := range st.staged {
		if err := os.Rename(f.tmp, f.path); err != nil {
			st.discardDataFiles()
			return err
		}
	}
	st.staged = nil
	return nil
}

// discardDataFiles removes whatever is still staged.
func (st *importState) discardDataFiles() {
	for _, f := range st.staged {
		os.Remove(f.tmp)
	}
	st.staged = nil
}

// importState carries the identifier-to-key mappings of one import.
type importState struct {
	share     *store.Share
	project   *store.Project
	origin    *store.Profile
	createdBy *store.Profile
	ids       map[string]map[string]string
	profiles  map[string]string
	staged    []stagedFile
}

func (st *importState) remember(kind, key, id string) {
	m, ok := st.ids[kind]
	if !ok {
		m = make(map[string]string)
		st.ids[kind] = m
	}
	m[key] = id
}

func (st *importState) attach(tx *gorm.DB, kind string, ids []string) error {
	var projectID *string
	if st.project != nil {
		projectID = &st.project.ID
	}
	return attachMembers(tx, st.share.ID, projectID, kind, ids)
}

func (st *importState) ownerID() *string {
	if st.createdBy == nil {
		return nil
	}
	return &st.createdBy.ID
}

// profile returns the key of the profile, creating a placeholder when the
// identifier is not known yet. An empty identifier yields nil.
func (st *importState) profile(tx *gorm.DB, ident string) (*string, error) {
	if ident == "" {
		return nil, nil
	}
	if id, ok := st.profiles[ident]; ok {
		return &id, nil
	}
	p, err := federation.EnsureProfile(tx, ident, nil)
	if err != nil {
		return nil, err
	}
	st.profiles[ident] = p.ID
	return &p.ID, nil
}

// resolve maps a referenced identifier to a local key, looking first at rows
// merged by this import. A required reference that is not found fails the
// import.
func (st *importState) resolve(tx *gorm.DB, kind string, model any, key string, required bool) (*string, error) {
	if key == "" {
		return nil, nil
	}
	if id, ok := st.ids[kind][key]; ok {
		return &id, nil
	}
	found, err := existingIDs(tx, model, "identifier", []string{key})
	if err != nil {
		return nil, err
	}
	if id, ok := found[key]; ok {
		st.remember(kind, key, id)
		return &id, nil
	}
	if required {
		return nil, fedErrors.NewUnresolvedReferenceError("share", kind, key)
	}
	return nil, nil
}

// mustResolve is resolve for references that can not be null.
func (st *importState) mustResolve(tx *gorm.DB, kind string, model any, key string) (string, error) {
	if key == "" {
		return "", fedErrors.NewUnresolvedReferenceError("share", kind, "(empty)")
	}
	id, err := st.resolve(tx, kind, model, key, true)
	if err != nil {
		return "", err
	}
	return *id, nil
}
