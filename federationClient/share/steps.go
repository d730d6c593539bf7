package share

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/centauron/federation-node/federationClient/store"
)

type importStep struct {
	name string
	run  func(im *Importer, tx *gorm.DB, st *importState, c *Content) error
}

// importSteps lists the package sections in dependency order.
var importSteps = []importStep{
	{store.KindCase, importCases},
	{store.KindFile, importFiles},
	{store.KindCodeSystem, importCodeSystems},
	{store.KindCode, importCodes},
	{store.KindChallenge, importChallenge},
	{store.KindDataset, importDatasets},
	{store.KindTargetMetric, importTargetMetrics},
	{store.KindEvaluationCode, importEvaluationCode},
	{store.KindComputingPipeline, importPipeline},
	{store.KindSubmission, importSubmissionPart},
	{store.KindComputingJobDefinition, importJobDefinitions},
	{store.KindComputingJobExecution, importJobExecutions},
	{store.KindComputingJobLog, importJobLogs},
	{store.KindComputingJobArtefact, importJobArtefacts},
	{store.KindExtraData, importExtraData},
	{store.KindPermission, importPermissions},
}

func importCases(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Cases)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.Case, 0, len(recs))
	for _, r := range recs {
		origin, err := st.profile(tx, r.str("origin"))
		if err != nil {
			return err
		}
		rows = append(rows, store.Case{Identifier: r.str("identifier"), Name: r.str("name"), OriginID: origin})
	}
	return merger[store.Case]{
		kind:   store.KindCase,
		column: "identifier",
		update: []string{"name"},
		key:    func(x *store.Case) string { return x.Identifier },
		base:   func(x *store.Case) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importFiles(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Files)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.File, 0, len(recs))
	for _, r := range recs {
		caseID, err := st.resolve(tx, store.KindCase, &store.Case{}, r.str("case"), true)
		if err != nil {
			return err
		}
		origin, err := st.profile(tx, r.str("origin"))
		if err != nil {
			return err
		}
		size, err := r.asInt64("size")
		if err != nil {
			return err
		}
		rows = append(rows, store.File{
			Identifier:       r.str("identifier"),
			Name:             r.str("name"),
			ContentType:      r.str("content_type"),
			Size:             size,
			OriginalFilename: r.str("original_filename"),
			OriginalPath:     r.str("original_path"),
			CaseID:           caseID,
			OriginID:         origin,
			CreatedByID:      st.ownerID(),
			Imported:         true,
		})
	}
	return merger[store.File]{
		kind:   store.KindFile,
		column: "identifier",
		update: []string{"name", "content_type", "size", "original_filename", "original_path", "case_id"},
		key:    func(x *store.File) string { return x.Identifier },
		base:   func(x *store.File) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importCodeSystems(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.CodeSystems)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.CodeSystem, 0, len(recs))
	for _, r := range recs {
		origin, err := st.profile(tx, r.str("origin"))
		if err != nil {
			return err
		}
		rows = append(rows, store.CodeSystem{URI: r.str("uri"), Name: r.str("name"), OriginID: origin})
	}
	return merger[store.CodeSystem]{
		kind:   store.KindCodeSystem,
		column: "uri",
		update: []string{"name"},
		key:    func(x *store.CodeSystem) string { return x.URI },
		base:   func(x *store.CodeSystem) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

// codeSystem returns the key of the code system with uri, creating it when
// the package references one it does not carry.
func codeSystem(tx *gorm.DB, st *importState, uri string) (string, error) {
	if id, ok := st.ids[store.KindCodeSystem][uri]; ok {
		return id, nil
	}
	var cs store.CodeSystem
	err := tx.Where("uri = ?", uri).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cs = store.CodeSystem{URI: uri, Name: uri, OriginID: &st.origin.ID}
		err = tx.Create(&cs).Error
		if err == nil {
			err = st.attach(tx, store.KindCodeSystem, []string{cs.ID})
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve code system %s: %w", uri, err)
	}
	st.remember(store.KindCodeSystem, uri, cs.ID)
	return cs.ID, nil
}

func importCodes(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Codes)
	if err != nil || len(recs) == 0 {
		return err
	}
	type annotated struct {
		file string
		key  string
	}
	codes := make(map[string]*store.Code)
	var order []string
	var links []annotated
	for _, r := range recs {
		csID, err := codeSystem(tx, st, r.str("codesystem"))
		if err != nil {
			return err
		}
		key := r.str("code") + "|" + csID
		if _, ok := codes[key]; !ok {
			origin, err := st.profile(tx, r.str("origin"))
			if err != nil {
				return err
			}
			codes[key] = &store.Code{Code: r.str("code"), CodeSystemID: csID, OriginID: origin}
			order = append(order, key)
		}
		if f := r.str("file"); f != "" {
			links = append(links, annotated{file: f, key: key})
		}
	}

	var created []string
	rows := make([]store.Code, 0, len(order))
	for _, key := range order {
		code := codes[key]
		var existing store.Code
		err := tx.Where("code = ? AND code_system_id = ?", code.Code, code.CodeSystemID).Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != "" {
			code.ID = existing.ID
		} else {
			code.ID = uuid.NewString()
			created = append(created, code.ID)
		}
		rows = append(rows, *code)
	}
	if err := upsert(tx, rows, []string{"code", "code_system_id"}, nil); err != nil {
		return err
	}
	if err := st.attach(tx, store.KindCode, created); err != nil {
		return err
	}

	fileCodes := make([]store.FileCode, 0, len(links))
	for _, l := range links {
		fileID, err := st.mustResolve(tx, store.KindFile, &store.File{}, l.file)
		if err != nil {
			return err
		}
		fileCodes = append(fileCodes, store.FileCode{FileID: fileID, CodeID: codes[l.key].ID})
	}
	if len(fileCodes) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&fileCodes, batchSize).Error
}

func importChallenge(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Challenge)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.Challenge, 0, len(recs))
	for _, r := range recs {
		from, err := r.asTime("open_from")
		if err != nil {
			return err
		}
		until, err := r.asTime("open_until")
		if err != nil {
			return err
		}
		origin, err := st.profile(tx, r.str("origin"))
		if err != nil {
			return err
		}
		project, err := st.resolve(tx, "project", &store.Project{}, r.str("project"), false)
		if err != nil {
			return err
		}
		if project == nil && st.project != nil {
			project = &st.project.ID
		}
		rows = append(rows, store.Challenge{
			Identifier:  r.str("identifier"),
			Name:        r.str("name"),
			OpenFrom:    from,
			OpenUntil:   until,
			Description: r.str("description"),
			ProjectID:   project,
			OriginID:    origin,
		})
	}
	return merger[store.Challenge]{
		kind:   store.KindChallenge,
		column: "identifier",
		update: []string{"name", "open_from", "open_until", "description", "project_id"},
		key:    func(x *store.Challenge) string { return x.Identifier },
		base:   func(x *store.Challenge) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importDatasets(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Datasets)
	if err != nil {
		return err
	}
	rows := make([]store.Dataset, 0, len(recs))
	for _, r := range recs {
		challenge, err := st.resolve(tx, store.KindChallenge, &store.Challenge{}, r.str("challenge"), true)
		if err != nil {
			return err
		}
		rows = append(rows, store.Dataset{
			Identifier:  r.str("identifier"),
			Name:        r.str("name"),
			Type:        r.str("type"),
			Description: r.str("description"),
			ChallengeID: challenge,
		})
	}
	err = merger[store.Dataset]{
		kind:   store.KindDataset,
		column: "identifier",
		update: []string{"name", "type", "description", "challenge_id"},
		key:    func(x *store.Dataset) string { return x.Identifier },
		base:   func(x *store.Dataset) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
	if err != nil {
		return err
	}

	fileLinks, err := parseCSV(c.DatasetsFiles)
	if err != nil {
		return err
	}
	df := make([]store.DatasetFile, 0, len(fileLinks))
	for _, r := range fileLinks {
		dataset, err := st.mustResolve(tx, store.KindDataset, &store.Dataset{}, r.str("dataset"))
		if err != nil {
			return err
		}
		file, err := st.mustResolve(tx, store.KindFile, &store.File{}, r.str("file"))
		if err != nil {
			return err
		}
		df = append(df, store.DatasetFile{DatasetID: dataset, FileID: file})
	}
	if len(df) > 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&df, batchSize).Error; err != nil {
			return err
		}
	}

	caseLinks, err := parseCSV(c.DatasetsCases)
	if err != nil {
		return err
	}
	dc := make([]store.DatasetCase, 0, len(caseLinks))
	for _, r := range caseLinks {
		dataset, err := st.mustResolve(tx, store.KindDataset, &store.Dataset{}, r.str("dataset"))
		if err != nil {
			return err
		}
		cs, err := st.mustResolve(tx, store.KindCase, &store.Case{}, r.str("case"))
		if err != nil {
			return err
		}
		dc = append(dc, store.DatasetCase{DatasetID: dataset, CaseID: cs})
	}
	if len(dc) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&dc, batchSize).Error
}

func importTargetMetrics(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.TargetMetrics)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.TargetMetric, 0, len(recs))
	for _, r := range recs {
		challenge, err := st.resolve(tx, store.KindChallenge, &store.Challenge{}, r.str("challenge"), true)
		if err != nil {
			return err
		}
		rows = append(rows, store.TargetMetric{
			Identifier:  r.str("identifier"),
			Sort:        r.str("sort"),
			Key:         r.str("key"),
			Dtype:       r.str("dtype"),
			Filename:    r.str("filename"),
			ChallengeID: challenge,
		})
	}
	return merger[store.TargetMetric]{
		kind:   store.KindTargetMetric,
		column: "identifier",
		update: []string{"sort", "key", "dtype", "filename", "challenge_id"},
		key:    func(x *store.TargetMetric) string { return x.Identifier },
		base:   func(x *store.TargetMetric) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importEvaluationCode(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	if len(c.EvaluationCode) == 0 {
		return nil
	}
	rows := make([]store.EvaluationCode, 0, len(c.EvaluationCode))
	for _, e := range c.EvaluationCode {
		rows = append(rows, store.EvaluationCode{
			Identifier: e.Identifier,
			Entrypoint: e.Entrypoint,
			Pyscript:   e.Pyscript,
			Schema:     datatypes.JSON(e.Schema),
		})
	}
	return merger[store.EvaluationCode]{
		kind:   store.KindEvaluationCode,
		column: "identifier",
		update: []string{"entrypoint", "pyscript", "schema"},
		key:    func(x *store.EvaluationCode) string { return x.Identifier },
		base:   func(x *store.EvaluationCode) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

// importPipeline stores the challenge pipeline. Pipelines arriving with a
// submission part are kept as templates.
func importPipeline(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	p := c.ChallengePipeline
	if p == nil {
		return nil
	}
	challenge, err := st.resolve(tx, store.KindChallenge, &store.Challenge{}, p.Challenge, false)
	if err != nil {
		return err
	}
	row := store.ComputingPipeline{
		Identifier:  p.Identifier,
		Name:        p.Name,
		ChallengeID: challenge,
		Definition:  datatypes.JSON(p.Definition),
		IsTemplate:  p.IsTemplate || c.Type == TypeSubmissionPart,
	}
	return merger[store.ComputingPipeline]{
		kind:   store.KindComputingPipeline,
		column: "identifier",
		update: []string{"name", "challenge_id", "definition", "is_template"},
		key:    func(x *store.ComputingPipeline) string { return x.Identifier },
		base:   func(x *store.ComputingPipeline) *store.Base { return &x.Base },
	}.merge(tx, st, []store.ComputingPipeline{row})
}

// importSubmissionPart creates the local part submission of a
// submission-part share and writes its data files. A re-import refreshes
// the data files of the existing part.
func importSubmissionPart(im *Importer, tx *gorm.DB, st *importState, c *Content) error {
	if c.Type != TypeSubmissionPart || c.Submission == nil {
		return nil
	}
	paths, err := im.writeDataFiles(st, st.share.ID, c.DataFiles)
	if err != nil {
		return err
	}
	dataFiles, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	challenge, err := st.resolve(tx, store.KindChallenge, &store.Challenge{}, c.Submission.Challenge, false)
	if err != nil {
		return err
	}

	var sub store.Submission
	err = tx.Where("reference = ? AND origin_id = ? AND part_submission = ?", c.Submission.Identifier, st.origin.ID, true).
		Limit(1).Find(&sub).Error
	if err != nil {
		return err
	}
	created := sub.ID == ""
	if created {
		sub = store.Submission{
			Identifier:     im.ids.CreateRandom(TypeSubmissionPart),
			Reference:      c.Submission.Identifier,
			PartSubmission: true,
			OriginID:       &st.origin.ID,
		}
	}
	sub.Name = c.Submission.Name
	sub.ChallengeID = challenge
	sub.DataFiles = datatypes.JSON(dataFiles)
	if err := tx.Save(&sub).Error; err != nil {
		return fmt.Errorf("failed to save part submission: %w", err)
	}
	st.remember(store.KindSubmission, c.Submission.Identifier, sub.ID)
	if !created {
		return nil
	}
	return st.attach(tx, store.KindSubmission, []string{sub.ID})
}

func importJobDefinitions(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.JobDefinitions)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.ComputingJobDefinition, 0, len(recs))
	for _, r := range recs {
		batch, err := r.asInt("batch_size")
		if err != nil {
			return err
		}
		total, err := r.asInt("total_batches")
		if err != nil {
			return err
		}
		submission, err := st.resolve(tx, store.KindSubmission, &store.Submission{}, r.str("submission"), false)
		if err != nil {
			return err
		}
		rows = append(rows, store.ComputingJobDefinition{
			Identifier:    r.str("identifier"),
			Name:          r.str("name"),
			BatchSize:     batch,
			TotalBatches:  total,
			SubmissionID:  submission,
			ExecutionType: r.str("execution_type"),
		})
	}
	return merger[store.ComputingJobDefinition]{
		kind:   store.KindComputingJobDefinition,
		column: "identifier",
		update: []string{"name", "batch_size", "total_batches", "submission_id", "execution_type"},
		key:    func(x *store.ComputingJobDefinition) string { return x.Identifier },
		base:   func(x *store.ComputingJobDefinition) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importJobExecutions(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.JobExecutions)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.ComputingJobExecution, 0, len(recs))
	for _, r := range recs {
		started, err := r.asTime("started_at")
		if err != nil {
			return err
		}
		finished, err := r.asTime("finished_at")
		if err != nil {
			return err
		}
		batch, err := r.asInt("batch_number")
		if err != nil {
			return err
		}
		definition, err := st.mustResolve(tx, store.KindComputingJobDefinition, &store.ComputingJobDefinition{}, r.str("definition"))
		if err != nil {
			return err
		}
		rows = append(rows, store.ComputingJobExecution{
			Identifier:   r.str("identifier"),
			Status:       r.str("status"),
			StartedAt:    started,
			FinishedAt:   finished,
			BatchNumber:  batch,
			DefinitionID: &definition,
		})
	}
	return merger[store.ComputingJobExecution]{
		kind:   store.KindComputingJobExecution,
		column: "identifier",
		update: []string{"status", "started_at", "finished_at", "batch_number", "definition_id"},
		key:    func(x *store.ComputingJobExecution) string { return x.Identifier },
		base:   func(x *store.ComputingJobExecution) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importJobLogs(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.JobLogs)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.ComputingJobLog, 0, len(recs))
	for _, r := range recs {
		position, err := r.asInt("position")
		if err != nil {
			return err
		}
		logged, err := r.asTime("logged_at")
		if err != nil {
			return err
		}
		job, err := st.mustResolve(tx, store.KindComputingJobExecution, &store.ComputingJobExecution{}, r.str("computing_job"))
		if err != nil {
			return err
		}
		rows = append(rows, store.ComputingJobLog{
			Identifier:     r.str("identifier"),
			Type:           r.str("type"),
			Content:        r.str("content"),
			Position:       position,
			LoggedAt:       logged,
			ComputingJobID: &job,
		})
	}
	return merger[store.ComputingJobLog]{
		kind:   store.KindComputingJobLog,
		column: "identifier",
		update: []string{"type", "content", "position", "logged_at"},
		key:    func(x *store.ComputingJobLog) string { return x.Identifier },
		base:   func(x *store.ComputingJobLog) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importJobArtefacts(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.JobArtefacts)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.ComputingJobArtefact, 0, len(recs))
	for _, r := range recs {
		created, err := r.asTime("date_created")
		if err != nil {
			return err
		}
		file, err := st.mustResolve(tx, store.KindFile, &store.File{}, r.str("file"))
		if err != nil {
			return err
		}
		job, err := st.mustResolve(tx, store.KindComputingJobExecution, &store.ComputingJobExecution{}, r.str("computing_job"))
		if err != nil {
			return err
		}
		rows = append(rows, store.ComputingJobArtefact{
			Identifier:     r.str("identifier"),
			DateCreated:    created,
			FileID:         &file,
			ComputingJobID: &job,
		})
	}
	return merger[store.ComputingJobArtefact]{
		kind:   store.KindComputingJobArtefact,
		column: "identifier",
		update: []string{"date_created", "file_id", "computing_job_id"},
		key:    func(x *store.ComputingJobArtefact) string { return x.Identifier },
		base:   func(x *store.ComputingJobArtefact) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

func importExtraData(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.ExtraData)
	if err != nil || len(recs) == 0 {
		return err
	}
	rows := make([]store.ExtraData, 0, len(recs))
	for _, r := range recs {
		file, err := st.mustResolve(tx, store.KindFile, &store.File{}, r.str("file"))
		if err != nil {
			return err
		}
		createdBy, err := st.profile(tx, r.str("created_by"))
		if err != nil {
			return err
		}
		if createdBy == nil {
			createdBy = st.ownerID()
		}
		origin, err := st.profile(tx, r.str("origin"))
		if err != nil {
			return err
		}
		rows = append(rows, store.ExtraData{
			Identifier:            r.str("identifier"),
			FileID:                &file,
			Data:                  jsonCell(r.str("data")),
			ApplicationIdentifier: r.str("application_identifier"),
			Description:           r.str("description"),
			CreatedByID:           createdBy,
			OriginID:              origin,
		})
	}
	return merger[store.ExtraData]{
		kind:   store.KindExtraData,
		column: "identifier",
		update: []string{"data", "application_identifier", "description"},
		key:    func(x *store.ExtraData) string { return x.Identifier },
		base:   func(x *store.ExtraData) *store.Base { return &x.Base },
	}.merge(tx, st, rows)
}

// importPermissions grants the listed permissions to the owning profile.
func importPermissions(_ *Importer, tx *gorm.DB, st *importState, c *Content) error {
	recs, err := parseCSV(c.Permissions)
	if err != nil || len(recs) == 0 || st.createdBy == nil {
		return err
	}
	rows := make([]store.Permission, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, store.Permission{
			ObjectIdentifier: r.str("object_identifier"),
			Permission:       r.str("permission"),
			Action:           r.str("action"),
			ProfileID:        st.createdBy.ID,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, batchSize).Error
}

// jsonCell keeps valid JSON as is and stores anything else as a JSON string.
func jsonCell(s string) datatypes.JSON {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return datatypes.JSON(s)
	}
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}
