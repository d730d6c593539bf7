// Package share builds bulk packages of shareable entities, freezes and
// sends them to recipients, and imports and retracts packages received from
// peers.
package share

import "encoding/json"

// Package keys that are not entity sections. Entity sections use the
// store.Kind* names.
const (
	KeyIdentifier         = "identifier"
	KeyName               = "name"
	KeyDescription        = "description"
	KeyType               = "type"
	KeyProject            = "project"
	KeyPreviousIdentifier = "previous-identifier"
	KeyGroundTruth        = "ground_truth"
	KeyGroundTruthSchema  = "ground_truth_schema"
	KeyDatasetsFiles      = "datasets_files"
	KeyDatasetsCases      = "datasets_cases"
	KeyDataFiles          = "data_files"
)

// TypeSubmissionPart marks a share carrying one part of a submission.
const TypeSubmissionPart = "submission-part"

// Package is the share content under construction.
type Package map[string]any

// Content is the decoded form of a received package.
type Content struct {
	Identifier         string `json:"identifier"`
	Name               string `json:"name,omitempty"`
	Description        string `json:"description,omitempty"`
	Type               string `json:"type,omitempty"`
	Project            string `json:"project,omitempty"`
	PreviousIdentifier string `json:"previous-identifier,omitempty"`
	GroundTruth        string `json:"ground_truth,omitempty"`
	GroundTruthSchema  string `json:"ground_truth_schema,omitempty"`

	Cases          string `json:"cases,omitempty"`
	Files          string `json:"files,omitempty"`
	CodeSystems    string `json:"codesystems,omitempty"`
	Codes          string `json:"codes,omitempty"`
	Challenge      string `json:"challenge,omitempty"`
	Datasets       string `json:"datasets,omitempty"`
	DatasetsFiles  string `json:"datasets_files,omitempty"`
	DatasetsCases  string `json:"datasets_cases,omitempty"`
	TargetMetrics  string `json:"target_metrics,omitempty"`
	JobDefinitions string `json:"computing_job_definitions,omitempty"`
	JobExecutions  string `json:"computing_job_executions,omitempty"`
	JobLogs        string `json:"computing_job_logs,omitempty"`
	JobArtefacts   string `json:"computing_job_artefacts,omitempty"`
	ExtraData      string `json:"extra-data,omitempty"`
	Permissions    string `json:"permissions,omitempty"`

	EvaluationCode    []EvaluationCodeRecord `json:"evaluation-code,omitempty"`
	Submission        *SubmissionRecord      `json:"submission,omitempty"`
	DataFiles         map[string]string      `json:"data_files,omitempty"`
	ChallengePipeline *PipelineRecord        `json:"challenge_pipeline,omitempty"`
}

type EvaluationCodeRecord struct {
	Identifier string          `json:"identifier"`
	Entrypoint string          `json:"entrypoint"`
	Pyscript   string          `json:"pyscript"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

type SubmissionRecord struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Challenge  string `json:"challenge,omitempty"`
	Reference  string `json:"reference,omitempty"`
}

type PipelineRecord struct {
	Identifier string          `json:"identifier"`
	Name       string          `json:"name"`
	Challenge  string          `json:"challenge,omitempty"`
	Definition json.RawMessage `json:"definition,omitempty"`
	IsTemplate bool            `json:"is_template"`
}
