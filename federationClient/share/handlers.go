package share

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/store"
)

// tableOf returns the table name of model.
func tableOf(tx *gorm.DB, model any) string {
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(model); err != nil {
		panic(fmt.Sprintf("share: unknown model %T: %v", model, err))
	}
	return stmt.Schema.Table
}

// sqlf expands {Model} placeholders to quoted table names.
func sqlf(tx *gorm.DB, query string) string {
	pairs := make([]string, 0, 2*len(sectionModels))
	for name, model := range sectionModels {
		pairs = append(pairs, "{"+name+"}", fmt.Sprintf("%q", tableOf(tx, model)))
	}
	return strings.NewReplacer(pairs...).Replace(query)
}

var sectionModels = map[string]any{
	"Profile":      &store.Profile{},
	"Case":         &store.Case{},
	"File":         &store.File{},
	"CodeSystem":   &store.CodeSystem{},
	"Code":         &store.Code{},
	"FileCode":     &store.FileCode{},
	"Challenge":    &store.Challenge{},
	"Project":      &store.Project{},
	"Dataset":      &store.Dataset{},
	"DatasetFile":  &store.DatasetFile{},
	"DatasetCase":  &store.DatasetCase{},
	"TargetMetric": &store.TargetMetric{},
	"Definition":   &store.ComputingJobDefinition{},
	"Execution":    &store.ComputingJobExecution{},
	"JobLog":       &store.ComputingJobLog{},
	"Artefact":     &store.ComputingJobArtefact{},
	"Submission":   &store.Submission{},
	"ExtraData":    &store.ExtraData{},
	"Permission":   &store.Permission{},
}

const (
	casesQuery = `SELECT c.name, c.identifier, o.identifier AS origin
FROM {Case} c LEFT JOIN {Profile} o ON o.id = c.origin_id
WHERE c.id IN ? ORDER BY c.identifier`

	filesQuery = `SELECT o.identifier AS origin, c.identifier AS "case",
	f.identifier, f.name, f.content_type, f.size, f.original_filename, f.original_path
FROM {File} f LEFT JOIN {Case} c ON c.id = f.case_id LEFT JOIN {Profile} o ON o.id = f.origin_id
WHERE f.id IN ? ORDER BY f.identifier`

	codeSystemsQuery = `SELECT DISTINCT cs.name, cs.uri, o.identifier AS origin
FROM {FileCode} fc JOIN {Code} c ON c.id = fc.code_id JOIN {CodeSystem} cs ON cs.id = c.code_system_id
LEFT JOIN {Profile} o ON o.id = cs.origin_id
WHERE fc.file_id IN ? ORDER BY cs.uri`

	codesQuery = `SELECT f.identifier AS file, o.identifier AS origin, c.code, cs.uri AS codesystem
FROM {FileCode} fc JOIN {File} f ON f.id = fc.file_id JOIN {Code} c ON c.id = fc.code_id
JOIN {CodeSystem} cs ON cs.id = c.code_system_id LEFT JOIN {Profile} o ON o.id = c.origin_id
WHERE fc.file_id IN ? ORDER BY f.identifier, c.code`

	challengeQuery = `SELECT c.identifier, c.name, c.open_from, c.open_until, c.description,
	p.identifier AS project, o.identifier AS origin
FROM {Challenge} c LEFT JOIN {Project} p ON p.id = c.project_id LEFT JOIN {Profile} o ON o.id = c.origin_id
WHERE c.id IN ?`

	datasetsQuery = `SELECT d.identifier, d.name, d.type, d.description, c.identifier AS challenge
FROM {Dataset} d LEFT JOIN {Challenge} c ON c.id = d.challenge_id
WHERE d.id IN ? ORDER BY d.identifier`

	datasetsFilesQuery = `SELECT d.identifier AS dataset, f.identifier AS file
FROM {DatasetFile} df JOIN {Dataset} d ON d.id = df.dataset_id JOIN {File} f ON f.id = df.file_id
WHERE df.dataset_id IN ?`

	datasetsCasesQuery = `SELECT d.identifier AS dataset, c.identifier AS "case"
FROM {DatasetCase} dc JOIN {Dataset} d ON d.id = dc.dataset_id JOIN {Case} c ON c.id = dc.case_id
WHERE dc.dataset_id IN ?`

	targetMetricsQuery = `SELECT m.identifier, m.sort, m."key", m.dtype, m.filename, c.identifier AS challenge
FROM {TargetMetric} m LEFT JOIN {Challenge} c ON c.id = m.challenge_id
WHERE m.id IN ? ORDER BY m.identifier`

	definitionsQuery = `SELECT d.identifier, d.name, d.batch_size, d.total_batches,
	s.identifier AS submission, d.execution_type
FROM {Definition} d LEFT JOIN {Submission} s ON s.id = d.submission_id
WHERE d.id IN ? ORDER BY d.identifier`

	executionsQuery = `SELECT e.identifier, e.status, e.started_at, e.finished_at, e.batch_number,
	d.identifier AS definition
FROM {Execution} e LEFT JOIN {Definition} d ON d.id = e.definition_id
WHERE e.id IN ? ORDER BY e.identifier`

	jobLogsQuery = `SELECT l.type, l.content, l.position, l.logged_at, l.identifier, e.identifier AS computing_job
FROM {JobLog} l LEFT JOIN {Execution} e ON e.id = l.computing_job_id
WHERE l.id IN ? ORDER BY l.position`

	artefactsQuery = `SELECT a.identifier, a.date_created, f.identifier AS file, e.identifier AS computing_job
FROM {Artefact} a LEFT JOIN {File} f ON f.id = a.file_id LEFT JOIN {Execution} e ON e.id = a.computing_job_id
WHERE a.id IN ? ORDER BY a.identifier`

	extraDataQuery = `SELECT f.identifier AS file, x.identifier, x.data, x.application_identifier, x.description,
	c.identifier AS created_by, o.identifier AS origin
FROM {ExtraData} x LEFT JOIN {File} f ON f.id = x.file_id LEFT JOIN {Profile} c ON c.id = x.created_by_id
LEFT JOIN {Profile} o ON o.id = x.origin_id
WHERE x.id IN ? ORDER BY x.identifier`

	permissionsQuery = `SELECT p.object_identifier, p.permission, p.action
FROM {Permission} p WHERE p.object_identifier IN ? ORDER BY p.object_identifier`
)

// ValueHandler puts a fixed value under a package key.
type ValueHandler struct {
	Key   string
	Value string
}

func TypeHandler(t string) ValueHandler { return ValueHandler{Key: KeyType, Value: t} }

func PreviousIdentifierHandler(id string) ValueHandler {
	return ValueHandler{Key: KeyPreviousIdentifier, Value: id}
}

func (h ValueHandler) Name() string { return h.Key }

func (h ValueHandler) Handle(_ context.Context, _ *gorm.DB, pkg Package) error {
	if h.Value != "" {
		pkg[h.Key] = h.Value
	}
	return nil
}

func (h ValueHandler) Set(context.Context, *gorm.DB, *store.Share) error { return nil }

// CSVHandler renders one entity kind as bulk text.
type CSVHandler struct {
	Kind  string
	Query string
	// IDs are the keys the query selects by.
	IDs []string
	// Members returns the keys attached to the share; nil attaches IDs.
	Members func(tx *gorm.DB) ([]string, error)
}

func (h CSVHandler) Name() string { return h.Kind }

func (h CSVHandler) Handle(_ context.Context, tx *gorm.DB, pkg Package) error {
	if len(h.IDs) == 0 {
		return nil
	}
	text, n, err := queryCSV(tx, sqlf(tx, h.Query), h.IDs)
	if err != nil {
		return err
	}
	if n > 0 {
		pkg[h.Kind] = text
	}
	return nil
}

func (h CSVHandler) Set(_ context.Context, tx *gorm.DB, share *store.Share) error {
	if len(h.IDs) == 0 {
		return nil
	}
	ids := h.IDs
	if h.Members != nil {
		var err error
		if ids, err = h.Members(tx); err != nil {
			return err
		}
	}
	return attachMembers(tx, share.ID, share.ProjectID, h.Kind, ids)
}

func CasesHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindCase, Query: casesQuery, IDs: ids}
}

func FilesHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindFile, Query: filesQuery, IDs: ids}
}

// CodeSystemsHandler emits the code systems of the codes annotating files.
func CodeSystemsHandler(fileIDs []string) CSVHandler {
	return CSVHandler{
		Kind:  store.KindCodeSystem,
		Query: codeSystemsQuery,
		IDs:   fileIDs,
		Members: func(tx *gorm.DB) ([]string, error) {
			var ids []string
			err := tx.Model(&store.Code{}).Distinct("code_system_id").
				Where("id IN (?)", tx.Model(&store.FileCode{}).Select("code_id").Where("file_id IN ?", fileIDs)).
				Pluck("code_system_id", &ids).Error
			return ids, err
		},
	}
}

// CodesHandler emits the codes annotating files, one row per annotation.
func CodesHandler(fileIDs []string) CSVHandler {
	return CSVHandler{
		Kind:  store.KindCode,
		Query: codesQuery,
		IDs:   fileIDs,
		Members: func(tx *gorm.DB) ([]string, error) {
			var ids []string
			err := tx.Model(&store.FileCode{}).Distinct("code_id").Where("file_id IN ?", fileIDs).Pluck("code_id", &ids).Error
			return ids, err
		},
	}
}

func TargetMetricsHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindTargetMetric, Query: targetMetricsQuery, IDs: ids}
}

func JobDefinitionsHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindComputingJobDefinition, Query: definitionsQuery, IDs: ids}
}

func JobExecutionsHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindComputingJobExecution, Query: executionsQuery, IDs: ids}
}

func JobLogsHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindComputingJobLog, Query: jobLogsQuery, IDs: ids}
}

func JobArtefactsHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindComputingJobArtefact, Query: artefactsQuery, IDs: ids}
}

func ExtraDataHandler(ids []string) CSVHandler {
	return CSVHandler{Kind: store.KindExtraData, Query: extraDataQuery, IDs: ids}
}

// PermissionsHandler selects by object identifier; permissions are not
// share members.
func PermissionsHandler(objectIdentifiers []string) CSVHandler {
	return CSVHandler{
		Kind:    store.KindPermission,
		Query:   permissionsQuery,
		IDs:     objectIdentifiers,
		Members: func(*gorm.DB) ([]string, error) { return nil, nil },
	}
}

// ChallengeHandler emits a challenge with its datasets, their file and case
// links, its target metrics and its pipeline.
type ChallengeHandler struct {
	ChallengeID string
	DatasetIDs  []string
	MetricIDs   []string
}

func (h ChallengeHandler) Name() string { return store.KindChallenge }

func (h ChallengeHandler) Handle(_ context.Context, tx *gorm.DB, pkg Package) error {
	sections := []struct {
		key   string
		query string
		ids   []string
	}{
		{store.KindChallenge, challengeQuery, []string{h.ChallengeID}},
		{store.KindDataset, datasetsQuery, h.DatasetIDs},
		{KeyDatasetsFiles, datasetsFilesQuery, h.DatasetIDs},
		{KeyDatasetsCases, datasetsCasesQuery, h.DatasetIDs},
		{store.KindTargetMetric, targetMetricsQuery, h.MetricIDs},
	}
	for _, s := range sections {
		if len(s.ids) == 0 {
			continue
		}
		text, n, err := queryCSV(tx, sqlf(tx, s.query), s.ids)
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		if n > 0 {
			pkg[s.key] = text
		}
	}

	var pipeline store.ComputingPipeline
	if err := tx.Where("challenge_id = ? AND is_template = ?", h.ChallengeID, false).Limit(1).Find(&pipeline).Error; err != nil {
		return err
	}
	if pipeline.ID == "" {
		return nil
	}
	var challenge store.Challenge
	if err := tx.First(&challenge, "id = ?", h.ChallengeID).Error; err != nil {
		return err
	}
	pkg[store.KindComputingPipeline] = PipelineRecord{
		Identifier: pipeline.Identifier,
		Name:       pipeline.Name,
		Challenge:  challenge.Identifier,
		Definition: []byte(pipeline.Definition),
		IsTemplate: pipeline.IsTemplate,
	}
	return nil
}

func (h ChallengeHandler) Set(_ context.Context, tx *gorm.DB, share *store.Share) error {
	if err := attachMembers(tx, share.ID, share.ProjectID, store.KindChallenge, []string{h.ChallengeID}); err != nil {
		return err
	}
	if err := attachMembers(tx, share.ID, share.ProjectID, store.KindDataset, h.DatasetIDs); err != nil {
		return err
	}
	return attachMembers(tx, share.ID, share.ProjectID, store.KindTargetMetric, h.MetricIDs)
}

// EvaluationCodeHandler emits evaluation code records.
type EvaluationCodeHandler struct {
	IDs []string
}

func (h EvaluationCodeHandler) Name() string { return store.KindEvaluationCode }

func (h EvaluationCodeHandler) Handle(_ context.Context, tx *gorm.DB, pkg Package) error {
	if len(h.IDs) == 0 {
		return nil
	}
	var codes []store.EvaluationCode
	if err := tx.Where("id IN ?", h.IDs).Order("identifier").Find(&codes).Error; err != nil {
		return err
	}
	records := make([]EvaluationCodeRecord, len(codes))
	for i, c := range codes {
		records[i] = EvaluationCodeRecord{
			Identifier: c.Identifier,
			Entrypoint: c.Entrypoint,
			Pyscript:   c.Pyscript,
			Schema:     []byte(c.Schema),
		}
	}
	pkg[store.KindEvaluationCode] = records
	return nil
}

func (h EvaluationCodeHandler) Set(_ context.Context, tx *gorm.DB, share *store.Share) error {
	return attachMembers(tx, share.ID, share.ProjectID, store.KindEvaluationCode, h.IDs)
}

// SubmissionHandler emits a submission with the content of its stage data
// files, making the share a submission part.
type SubmissionHandler struct {
	SubmissionID string
	// DataFiles maps a stage name to a local file path.
	DataFiles map[string]string
}

func (h SubmissionHandler) Name() string { return store.KindSubmission }

func (h SubmissionHandler) Handle(_ context.Context, tx *gorm.DB, pkg Package) error {
	var sub store.Submission
	if err := tx.First(&sub, "id = ?", h.SubmissionID).Error; err != nil {
		return err
	}
	rec := SubmissionRecord{Identifier: sub.Identifier, Name: sub.Name, Reference: sub.Reference}
	if sub.ChallengeID != nil {
		var challenge store.Challenge
		if err := tx.First(&challenge, "id = ?", *sub.ChallengeID).Error; err != nil {
			return err
		}
		rec.Challenge = challenge.Identifier
	}
	files := make(map[string]string, len(h.DataFiles))
	for stage, path := range h.DataFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read data file for stage %s: %w", stage, err)
		}
		files[stage] = string(data)
	}
	pkg[store.KindSubmission] = rec
	pkg[KeyDataFiles] = files
	pkg[KeyType] = TypeSubmissionPart
	return nil
}

func (h SubmissionHandler) Set(_ context.Context, tx *gorm.DB, share *store.Share) error {
	return attachMembers(tx, share.ID, share.ProjectID, store.KindSubmission, []string{h.SubmissionID})
}
