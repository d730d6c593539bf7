package share

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/store"
)

func newService(t *testing.T, src *source) *Service {
	t.Helper()
	dir := federation.NewDirectory(src.database, zerolog.Nop())
	outbox := federation.NewOutbox(src.database, dir, federation.NewQueue(1, 1, zerolog.Nop()), nil, zerolog.Nop())
	return NewService(src.database, dir, outbox, identifier.NewGenerator("node-a"),
		ServiceOptions{TaskTimeout: time.Minute, TokenValidity: 24 * time.Hour}, zerolog.Nop())
}

func outboxEnvelopes(t *testing.T, src *source) []*federation.Envelope {
	t.Helper()
	var rows []store.OutboxMessage
	require.NoError(t, src.database.Client().Order("id").Find(&rows).Error)
	out := make([]*federation.Envelope, len(rows))
	for i, r := range rows {
		env, err := federation.DecodeEnvelope(r.Payload)
		require.NoError(t, err)
		out[i] = env
	}
	return out
}

func TestService_CreateShareSendsFrozenContent(t *testing.T) {
	src := seedSource(t)
	svc := newService(t, src)
	ctx := context.Background()

	b := svc.NewBuilder()
	b.Name = "cases only"
	b.Origin = src.peers.alice
	b.CreatedBy = src.peers.alice
	b.Add(CasesHandler([]string{src.cases[0].ID}))

	sh, tokens, err := svc.CreateShare(ctx, b, []*store.Profile{src.peers.bob}, true)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, src.peers.bob.ID, tokens[0].RecipientID)
	assert.WithinDuration(t, tokens[0].ValidFrom.Add(24*time.Hour), tokens[0].ValidUntil, time.Second)

	envs := outboxEnvelopes(t, src)
	require.Len(t, envs, 1)
	env := envs[0]
	assert.Equal(t, federation.EnvelopeCreate, env.Type)
	assert.Equal(t, "node-b", *env.To)
	assert.Equal(t, federation.ContentShare, env.Object.Type)
	assert.Equal(t, src.peers.alice.Identifier, env.Object.Sender)
	assert.JSONEq(t, string(sh.Content), string(env.Object.Content))

	t.Run("retraction", func(t *testing.T) {
		require.NoError(t, svc.SendRetraction(ctx, tokens[0]))
		envs := outboxEnvelopes(t, src)
		require.Len(t, envs, 2)
		assert.Equal(t, federation.EnvelopeDelete, envs[1].Type)
		assert.Equal(t, federation.ContentRetractShare, envs[1].Object.Type)
		assert.JSONEq(t, `{"identifier":"`+sh.Identifier+`"}`, string(envs[1].Object.Content))
	})

	t.Run("expired token is not sent", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
		defer func() { svc.now = time.Now }()
		err := svc.SendToNode(ctx, tokens[0])
		assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeValidation))
	})
}

func TestService_GrantValidatesWindow(t *testing.T) {
	src := seedSource(t)
	svc := newService(t, src)
	sh := src.build(t)

	now := time.Now()
	_, err := svc.Grant(context.Background(), sh, src.peers.bob, nil, now, now.Add(-time.Hour))
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeValidation))
	assert.Zero(t, count(t, src.database, &store.ShareToken{}))
}

func TestDownloads_SingleUse(t *testing.T) {
	src := seedSource(t)
	d := NewDownloads(src.database, time.Minute)
	ctx := context.Background()

	tok, err := d.Issue(ctx, src.files[0].ID, src.peers.bob.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)

	file, err := d.Redeem(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, src.files[0].Identifier, file.Identifier)

	_, err = d.Redeem(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenUnusable)

	t.Run("expired", func(t *testing.T) {
		tok, err := d.Issue(ctx, src.files[1].ID, src.peers.bob.ID)
		require.NoError(t, err)
		d.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { d.now = time.Now }()
		_, err = d.Redeem(ctx, tok.Token)
		assert.ErrorIs(t, err, ErrTokenUnusable)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := d.Redeem(ctx, "nope")
		assert.ErrorIs(t, err, ErrTokenUnusable)
	})

	t.Run("purge", func(t *testing.T) {
		_, err := d.Issue(ctx, src.files[1].ID, src.peers.bob.ID)
		require.NoError(t, err)

		n, err := d.Purge(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		d.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { d.now = time.Now }()
		n, err = d.Purge(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Zero(t, count(t, src.database, &store.DownloadToken{}))
	})
}
