package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/store"
)

func newWriter(t *testing.T) (*Writer, *db.DB) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewWriter(database, zerolog.Nop()), database
}

func projectMessage() *Message {
	return &Message{
		Action: ActionCreate,
		Actor:  Actor{Identifiable: Identifiable{Identifier: "org.a#user::1", Display: "Alice"}},
		Object: Object{Model: "project", Value: json.RawMessage(`{"identifier":"org.a#project::1","display":"Atlas"}`)},
	}
}

func TestWriter_AppendIsIdempotent(t *testing.T) {
	w, database := newWriter(t)
	ctx := context.Background()
	src := Source{EventID: "0xabc", MessageID: "0xabc:0", BlockNumber: 10}

	created, err := w.Append(ctx, projectMessage(), src, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = w.Append(ctx, projectMessage(), src, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, database.Client().Model(&store.Log{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriter_LinksKnownActor(t *testing.T) {
	w, database := newWriter(t)
	ctx := context.Background()

	profile := store.Profile{Identifier: "org.a#user::1"}
	require.NoError(t, database.Client().Create(&profile).Error)

	_, err := w.Append(ctx, projectMessage(), Source{EventID: "e", MessageID: "m"}, nil)
	require.NoError(t, err)

	logs, err := w.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, profile.ID, *logs[0].ActorID)
	assert.Equal(t, "Alice created project Atlas.", HumanReadable(&logs[0]))
}

func TestSchemaValidate(t *testing.T) {
	s, ok := SchemaFor(ActionCreate)
	require.True(t, ok)

	_, ok = SchemaFor("unknown")
	assert.False(t, ok)

	msg := projectMessage()
	assert.NoError(t, s.Validate(msg))

	msg.Actor.Identifier = ""
	assert.ErrorContains(t, s.Validate(msg), "actor identifier is required")

	msg = projectMessage()
	msg.Object.Model = "spaceship"
	assert.ErrorContains(t, s.Validate(msg), "not allowed")
}

func TestHumanReadable(t *testing.T) {
	testCases := []struct {
		name     string
		log      store.Log
		expected string
	}{
		{
			name: "user joined",
			log: store.Log{Action: ActionCreate, ActorDisplay: "x",
				Object: datatypes.JSON(`{"model":"user","value":{"identifier":"u","display":"Bob"}}`)},
			expected: "User Bob joined the network.",
		},
		{
			name: "node hello",
			log: store.Log{Action: ActionCreate, ActorDisplay: "Node B",
				Object: datatypes.JSON(`{"model":"node","value":{"identifier":"n"}}`)},
			expected: "Hello, node Node B!",
		},
		{
			name: "dataset in challenge",
			log: store.Log{Action: ActionAdd, ActorIdentifier: "org.a#user::1",
				Object:  datatypes.JSON(`{"model":"dataset","value":{"identifier":"d","display":"Train"}}`),
				Context: datatypes.JSON(`{"challenge":{"identifier":"c","display":"Camelyon"}}`)},
			expected: "org.a#user::1 added dataset Train in challenge Camelyon.",
		},
		{
			name: "exported files",
			log: store.Log{Action: ActionExport, ActorDisplay: "Alice",
				Object: datatypes.JSON(`{"model":"file","value":["a","b"]}`)},
			expected: "Alice exported 2 files.",
		},
		{
			name: "undecodable",
			log: store.Log{Action: ActionTest, ActorDisplay: "Alice",
				Object: datatypes.JSON(`{"value":{}}`), RawMessage: datatypes.JSON(`{"x":1}`)},
			expected: `Could not decode: test  {"x":1}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, HumanReadable(&tc.log))
		})
	}
}
