package identifier

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_CreateRandom(t *testing.T) {
	g := NewGenerator("org.example")

	id := g.CreateRandom(TypeShare)

	require.True(t, strings.HasPrefix(id, "org.example#share::"))
	_, err := uuid.Parse(strings.TrimPrefix(id, "org.example#share::"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, g.CreateRandom(TypeShare))
}

func TestGenerator_Fixed(t *testing.T) {
	g := &Generator{node: "n1", uuid: func() string { return "42" }}

	assert.Equal(t, "n1#case::42", g.CreateRandom(TypeCase))
	assert.Equal(t, "n1#value", g.Create("value"))
	assert.Equal(t, "n1", g.Node())
}

func TestFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "plain", want: "plain"},
		{in: "sys#val", want: "sys#val"},
		{in: " sys # val ", want: "sys#val"},
		{in: "a#b#c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := FromString(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromCommonName(t *testing.T) {
	got, err := FromCommonName("alice.user.hospital.org")
	require.NoError(t, err)
	assert.Equal(t, "hospital.org#user::alice", got)

	got, err = FromCommonName("svc.node.local")
	require.NoError(t, err)
	assert.Equal(t, "local#node::svc", got)

	_, err = FromCommonName("too.short")
	assert.Error(t, err)
}

func TestParts(t *testing.T) {
	node, kind, value, err := Parts("org.example#share::abc")
	require.NoError(t, err)
	assert.Equal(t, "org.example", node)
	assert.Equal(t, "share", kind)
	assert.Equal(t, "abc", value)

	node, kind, value, err = Parts("bare")
	require.NoError(t, err)
	assert.Empty(t, node)
	assert.Empty(t, kind)
	assert.Equal(t, "bare", value)
}
