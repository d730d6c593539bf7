package store

import (
	"time"

	"gorm.io/datatypes"
)

// Shareable entity kinds. The kind is the key of membership rows and of the
// package sections produced by the share builder.
const (
	KindCase                   = "cases"
	KindFile                   = "files"
	KindCodeSystem             = "codesystems"
	KindCode                   = "codes"
	KindChallenge              = "challenge"
	KindDataset                = "datasets"
	KindTargetMetric           = "target_metrics"
	KindEvaluationCode         = "evaluation-code"
	KindComputingPipeline      = "challenge_pipeline"
	KindComputingJobDefinition = "computing_job_definitions"
	KindComputingJobExecution  = "computing_job_executions"
	KindComputingJobLog        = "computing_job_logs"
	KindComputingJobArtefact   = "computing_job_artefacts"
	KindSubmission             = "submission"
	KindExtraData              = "extra-data"
	KindPermission             = "permissions"
)

type Case struct {
	Base
	Identifier string `gorm:"uniqueIndex;not null"`
	Name       string
	OriginID   *string `gorm:"size:36"`
}

type File struct {
	Base
	Identifier       string `gorm:"uniqueIndex;not null"`
	Name             string
	ContentType      string
	Size             int64
	OriginalFilename string
	OriginalPath     string
	CaseID           *string `gorm:"index;size:36"`
	OriginID         *string `gorm:"size:36"`
	CreatedByID      *string `gorm:"size:36"`
	Imported         bool
	Path             string
}

type CodeSystem struct {
	Base
	URI      string `gorm:"column:uri;uniqueIndex;not null"`
	Name     string
	OriginID *string `gorm:"size:36"`
}

type Code struct {
	Base
	Code         string  `gorm:"uniqueIndex:idx_code_codesystem;not null"`
	CodeSystemID string  `gorm:"uniqueIndex:idx_code_codesystem;size:36;not null"`
	OriginID     *string `gorm:"size:36"`
}

// FileCode annotates a file with a code.
type FileCode struct {
	FileID string `gorm:"primaryKey;size:36"`
	CodeID string `gorm:"primaryKey;size:36"`
}

type Challenge struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Name        string
	OpenFrom    *time.Time
	OpenUntil   *time.Time
	Description string
	ProjectID   *string `gorm:"size:36"`
	OriginID    *string `gorm:"size:36"`
}

type Dataset struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Name        string
	Type        string
	Description string
	ChallengeID *string `gorm:"index;size:36"`
	IsPublic    bool
}

type DatasetFile struct {
	DatasetID string `gorm:"primaryKey;size:36"`
	FileID    string `gorm:"primaryKey;size:36"`
}

type DatasetCase struct {
	DatasetID string `gorm:"primaryKey;size:36"`
	CaseID    string `gorm:"primaryKey;size:36"`
}

type TargetMetric struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Sort        string
	Key         string
	Dtype       string
	Filename    string
	ChallengeID *string `gorm:"index;size:36"`
}

type EvaluationCode struct {
	Base
	Identifier string `gorm:"uniqueIndex;not null"`
	Entrypoint string
	Pyscript   string `gorm:"type:text"`
	Schema     datatypes.JSON
}

type ComputingPipeline struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Name        string
	ChallengeID *string `gorm:"size:36"`
	Definition  datatypes.JSON
	IsTemplate  bool
}

type ComputingJobDefinition struct {
	Base
	Identifier    string `gorm:"uniqueIndex;not null"`
	Name          string
	BatchSize     int
	TotalBatches  int
	SubmissionID  *string `gorm:"size:36"`
	ExecutionType string
}

type ComputingJobExecution struct {
	Base
	Identifier   string `gorm:"uniqueIndex;not null"`
	Status       string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	BatchNumber  int
	DefinitionID *string `gorm:"index;size:36"`
}

type ComputingJobLog struct {
	Base
	Identifier     string `gorm:"uniqueIndex;not null"`
	Type           string
	Content        string `gorm:"type:text"`
	Position       int
	LoggedAt       *time.Time
	ComputingJobID *string `gorm:"index;size:36"`
}

type ComputingJobArtefact struct {
	Base
	Identifier     string `gorm:"uniqueIndex;not null"`
	DateCreated    *time.Time
	FileID         *string `gorm:"size:36"`
	ComputingJobID *string `gorm:"index;size:36"`
}

type Submission struct {
	Base
	Identifier     string `gorm:"uniqueIndex;not null"`
	Name           string
	ChallengeID    *string `gorm:"size:36"`
	Reference      string  `gorm:"index"`
	PartSubmission bool
	DataFiles      datatypes.JSON
	OriginID       *string `gorm:"size:36"`
}

type ExtraData struct {
	Base
	Identifier            string  `gorm:"uniqueIndex;not null"`
	FileID                *string `gorm:"size:36"`
	Data                  datatypes.JSON
	ApplicationIdentifier string
	Description           string
	CreatedByID           *string `gorm:"size:36"`
	OriginID              *string `gorm:"size:36"`
}

// Permission grants action on an object to a profile.
type Permission struct {
	Base
	ObjectIdentifier string `gorm:"uniqueIndex:idx_permission;not null"`
	Permission       string `gorm:"uniqueIndex:idx_permission;not null"`
	Action           string `gorm:"uniqueIndex:idx_permission;not null"`
	ProfileID        string `gorm:"uniqueIndex:idx_permission;size:36;not null"`
}
