package federation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	t.Run("addressed", func(t *testing.T) {
		env := &Envelope{
			Type: EnvelopeCreate,
			From: "node-a",
			To:   strPtr("node-b"),
			Object: &Object{
				Type:      ContentSubmission,
				Sender:    "alice",
				Recipient: strPtr("bob"),
				Content:   json.RawMessage(`{"id":1}`),
			},
		}
		raw, err := env.Encode()
		require.NoError(t, err)

		got, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, env, got)
		assert.False(t, got.IsBroadcast())
	})

	t.Run("broadcast keeps null recipient", func(t *testing.T) {
		env := &Envelope{
			Type:   EnvelopeCreate,
			From:   "node-a",
			Object: &Object{Type: ContentProfile, Sender: "alice"},
		}
		raw, err := env.Encode()
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"to":null`)
		assert.Contains(t, string(raw), `"recipient":null`)

		got, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.True(t, got.IsBroadcast())
		assert.Nil(t, got.Object.Recipient)
	})
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{`},
		{name: "unknown type", raw: `{"type":"shout","from":"a","to":null}`},
		{name: "missing type", raw: `{"from":"a"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.raw))
			require.Error(t, err)
			assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeMalformedPayload))
		})
	}
}

func TestEnvelope_DispatchKey(t *testing.T) {
	env := &Envelope{Type: EnvelopeCreate, Object: &Object{Type: ContentSubmission}}
	assert.Equal(t, "submission", env.DispatchKey())

	env.Object.Application = "leaderboard-app"
	assert.Equal(t, "leaderboard-app", env.DispatchKey())

	assert.Empty(t, (&Envelope{Type: EnvelopeAck}).DispatchKey())
}

func TestEnvelope_DecodeContent(t *testing.T) {
	env := &Envelope{Type: EnvelopeCreate, Object: &Object{Type: ContentNode, Content: json.RawMessage(`{"identifier":"n1","node_name":"One"}`)}}
	var c NodeContent
	require.NoError(t, env.DecodeContent(&c))
	assert.Equal(t, "One", c.Name)

	empty := &Envelope{Type: EnvelopeCreate, Object: &Object{Type: ContentNode}}
	err := empty.DecodeContent(&c)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeMalformedPayload))
}

func TestLooksLikeEnvelope(t *testing.T) {
	assert.True(t, LooksLikeEnvelope([]byte(`{"type":"create","object":{"type":"project"}}`)))
	assert.True(t, LooksLikeEnvelope([]byte(`{"type":"create","from":"n"}`)))
	assert.False(t, LooksLikeEnvelope([]byte(`{"header":{},"data":[]}`)))
	assert.False(t, LooksLikeEnvelope([]byte(`[1,2]`)))
	assert.False(t, LooksLikeEnvelope([]byte(`null`)))
}
