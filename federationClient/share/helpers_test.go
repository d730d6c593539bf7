package share

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/eventlog"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/store"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func create(t *testing.T, database *db.DB, rows ...any) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, database.Client().Create(r).Error)
	}
}

func count(t *testing.T, database *db.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, database.Client().Model(model).Count(&n).Error)
	return n
}

func members(t *testing.T, database *db.DB, shareID, kind string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, database.Client().Model(&store.ShareMember{}).
		Where("share_id = ? AND kind = ?", shareID, kind).Count(&n).Error)
	return n
}

// peers seeds node-a with alice and node-b with bob.
type peers struct {
	nodeA, nodeB *store.Node
	alice, bob   *store.Profile
}

func seedPeers(t *testing.T, database *db.DB) peers {
	t.Helper()
	p := peers{
		nodeA: &store.Node{Identifier: "node-a", APIAddress: "http://node-a/inbox"},
		nodeB: &store.Node{Identifier: "node-b", APIAddress: "http://node-b/inbox"},
	}
	create(t, database, p.nodeA, p.nodeB)
	p.alice = &store.Profile{Identifier: "node-a#user::alice", Display: "Alice", NodeID: &p.nodeA.ID}
	p.bob = &store.Profile{Identifier: "node-b#user::bob", Display: "Bob", NodeID: &p.nodeB.ID}
	create(t, database, p.alice, p.bob)
	return p
}

// source is a node-a database holding one of every shareable entity.
type source struct {
	database  *db.DB
	peers     peers
	cases     []*store.Case
	files     []*store.File
	challenge *store.Challenge
	dataset   *store.Dataset
	metric    *store.TargetMetric
	evalCode  *store.EvaluationCode
	def       *store.ComputingJobDefinition
	exec      *store.ComputingJobExecution
	jobLog    *store.ComputingJobLog
	artefact  *store.ComputingJobArtefact
	extra     *store.ExtraData
}

func seedSource(t *testing.T) *source {
	t.Helper()
	database := setupTestDB(t)
	s := &source{database: database, peers: seedPeers(t, database)}
	alice := &s.peers.alice.ID

	s.cases = []*store.Case{
		{Identifier: "node-a#case::1", Name: "case one", OriginID: alice},
		{Identifier: "node-a#case::2", Name: "case two", OriginID: alice},
	}
	create(t, database, s.cases[0], s.cases[1])

	s.files = []*store.File{
		{Identifier: "node-a#file::1", Name: "scan.dcm", ContentType: "application/dicom", Size: 1024, CaseID: &s.cases[0].ID, OriginID: alice},
		{Identifier: "node-a#file::2", Name: "report, final.pdf", ContentType: "application/pdf", Size: 2048, OriginID: alice},
	}
	create(t, database, s.files[0], s.files[1])

	cs := &store.CodeSystem{URI: "http://loinc.org", Name: "LOINC", OriginID: alice}
	create(t, database, cs)
	code := &store.Code{Code: "1234-5", CodeSystemID: cs.ID, OriginID: alice}
	create(t, database, code, &store.FileCode{FileID: s.files[0].ID, CodeID: code.ID})

	open := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.challenge = &store.Challenge{Identifier: "node-a#challenge::1", Name: "Segmentation", OpenFrom: &open, OriginID: alice}
	create(t, database, s.challenge)
	s.dataset = &store.Dataset{Identifier: "node-a#dataset::1", Name: "train", Type: "training", ChallengeID: &s.challenge.ID}
	create(t, database, s.dataset,
		&store.DatasetFile{DatasetID: s.dataset.ID, FileID: s.files[0].ID},
		&store.DatasetCase{DatasetID: s.dataset.ID, CaseID: s.cases[0].ID})
	s.metric = &store.TargetMetric{Identifier: "node-a#metric::1", Sort: "desc", Key: "dice", Dtype: "float", ChallengeID: &s.challenge.ID}
	create(t, database, s.metric)
	create(t, database, &store.ComputingPipeline{
		Identifier:  "node-a#pipeline::1",
		Name:        "default",
		ChallengeID: &s.challenge.ID,
		Definition:  datatypes.JSON(`{"steps":["infer","score"]}`),
	})

	s.evalCode = &store.EvaluationCode{Identifier: "node-a#evaluation-code::1", Entrypoint: "main", Pyscript: "print(1)"}
	create(t, database, s.evalCode)

	s.def = &store.ComputingJobDefinition{Identifier: "node-a#definition::1", Name: "infer", BatchSize: 4, TotalBatches: 2, ExecutionType: "docker"}
	create(t, database, s.def)
	s.exec = &store.ComputingJobExecution{Identifier: "node-a#execution::1", Status: "finished", BatchNumber: 1, DefinitionID: &s.def.ID}
	create(t, database, s.exec)
	s.jobLog = &store.ComputingJobLog{Identifier: "node-a#log::1", Type: "stdout", Content: "done\nok", Position: 1, ComputingJobID: &s.exec.ID}
	s.artefact = &store.ComputingJobArtefact{Identifier: "node-a#artefact::1", FileID: &s.files[1].ID, ComputingJobID: &s.exec.ID}
	s.extra = &store.ExtraData{
		Identifier:  "node-a#extra-data::1",
		FileID:      &s.files[0].ID,
		Data:        datatypes.JSON(`{"label":"tumour"}`),
		CreatedByID: alice,
		OriginID:    alice,
	}
	create(t, database, s.jobLog, s.artefact, s.extra,
		&store.Permission{ObjectIdentifier: s.files[0].Identifier, Permission: "read", Action: "view", ProfileID: s.peers.alice.ID})
	return s
}

func (s *source) fileIDs() []string {
	return []string{s.files[0].ID, s.files[1].ID}
}

// build produces a share holding every seeded entity.
func (s *source) build(t *testing.T) *store.Share {
	t.Helper()
	b := NewBuilder(s.database, identifier.NewGenerator("node-a"), zerolog.Nop())
	b.Name = "full"
	b.Description = "everything"
	b.Origin = s.peers.alice
	b.CreatedBy = s.peers.alice
	b.Add(
		TypeHandler("dataset"),
		CasesHandler([]string{s.cases[0].ID, s.cases[1].ID}),
		FilesHandler(s.fileIDs()),
		CodeSystemsHandler(s.fileIDs()),
		CodesHandler(s.fileIDs()),
		ChallengeHandler{ChallengeID: s.challenge.ID, DatasetIDs: []string{s.dataset.ID}, MetricIDs: []string{s.metric.ID}},
		EvaluationCodeHandler{IDs: []string{s.evalCode.ID}},
		JobDefinitionsHandler([]string{s.def.ID}),
		JobExecutionsHandler([]string{s.exec.ID}),
		JobLogsHandler([]string{s.jobLog.ID}),
		JobArtefactsHandler([]string{s.artefact.ID}),
		ExtraDataHandler([]string{s.extra.ID}),
		PermissionsHandler([]string{s.files[0].Identifier}),
	)
	sh, err := b.Build(context.Background())
	require.NoError(t, err)
	return sh
}

// target is a node-b database with an importer.
type target struct {
	database *db.DB
	peers    peers
	importer *Importer
	dataDir  string
}

func newTarget(t *testing.T) *target {
	t.Helper()
	database := setupTestDB(t)
	dataDir := t.TempDir()
	return &target{
		database: database,
		peers:    seedPeers(t, database),
		dataDir:  dataDir,
		importer: NewImporter(
			database,
			federation.NewDirectory(database, zerolog.Nop()),
			eventlog.NewWriter(database, zerolog.Nop()),
			identifier.NewGenerator("node-b"),
			nil,
			ImporterOptions{DataDir: dataDir},
			zerolog.Nop(),
		),
	}
}

func shareEnvelope(content []byte) *federation.Envelope {
	to, recipient := "node-b", "node-b#user::bob"
	return &federation.Envelope{
		Type: federation.EnvelopeCreate,
		From: "node-a",
		To:   &to,
		Object: &federation.Object{
			Type:      federation.ContentShare,
			Sender:    "node-a#user::alice",
			Recipient: &recipient,
			Content:   content,
		},
	}
}
