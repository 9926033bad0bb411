package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	redisclient "github.com/rxdispatch/rxdispatch-backend/pkg/redis"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, _ := newTestManagerWithServer(t)
	return manager
}

func newTestManagerWithServer(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	manager, err := NewManager(redisclient.Wrap(raw), config.JWTConfig{ExpirationMinutes: 15, RefreshTokenTTLMinutes: 60})
	require.NoError(t, err)
	return manager, mr
}

func TestNewManagerValidatesTTL(t *testing.T) {
	_, err := NewManager(nil, config.JWTConfig{})
	assert.Error(t, err)

	_, err = NewManager(&redisclient.Client{}, config.JWTConfig{ExpirationMinutes: 60, RefreshTokenTTLMinutes: 30})
	assert.Error(t, err)
}

func TestManagerGenerateAndRotate(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	userID := uuid.New()

	token, err := manager.Generate(ctx, userID, "access-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := manager.HasSession(ctx, "access-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = manager.Rotate(ctx, userID, "access-1", "wrong-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	newAccess, newToken, err := manager.Rotate(ctx, userID, "access-1", token)
	require.NoError(t, err)
	assert.NotEqual(t, "access-1", newAccess)
	assert.NotEqual(t, token, newToken)

	ok, err = manager.HasSession(ctx, "access-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = manager.HasSession(ctx, newAccess)
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = manager.Rotate(ctx, userID, "access-1", token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestManagerRevokeAllEndsEverySession(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	userID := uuid.New()
	other := uuid.New()

	_, err := manager.Generate(ctx, userID, "a")
	require.NoError(t, err)
	_, err = manager.Generate(ctx, userID, "b")
	require.NoError(t, err)
	_, err = manager.Generate(ctx, other, "c")
	require.NoError(t, err)

	require.NoError(t, manager.RevokeAll(ctx, userID))

	for _, id := range []string{"a", "b"} {
		ok, err := manager.HasSession(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
	ok, err := manager.HasSession(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManagerRevokeSingle(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	userID := uuid.New()

	_, err := manager.Generate(ctx, userID, "solo")
	require.NoError(t, err)
	require.NoError(t, manager.Revoke(ctx, userID, "solo"))

	ok, err := manager.HasSession(ctx, "solo")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, manager.Revoke(ctx, userID, " "))
	_, err = manager.HasSession(ctx, "")
	assert.Error(t, err)
}

func TestManagerStoresDigestNotToken(t *testing.T) {
	ctx := context.Background()
	manager, mr := newTestManagerWithServer(t)
	userID := uuid.New()

	token, err := manager.Generate(ctx, userID, "jti-1")
	require.NoError(t, err)

	stored, err := mr.Get("rxd:session:access:jti-1")
	require.NoError(t, err)
	assert.NotEqual(t, token, stored)
	assert.Equal(t, digest(token), stored)
	assert.Equal(t, time.Hour, mr.TTL("rxd:session:access:jti-1"))

	members, err := mr.Members("rxd:session:user:" + userID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{"jti-1"}, members)
}

func TestManagerRotateKeepsUserIndexCurrent(t *testing.T) {
	ctx := context.Background()
	manager, mr := newTestManagerWithServer(t)
	userID := uuid.New()

	token, err := manager.Generate(ctx, userID, "jti-old")
	require.NoError(t, err)
	newAccess, _, err := manager.Rotate(ctx, userID, "jti-old", token)
	require.NoError(t, err)

	members, err := mr.Members("rxd:session:user:" + userID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{newAccess}, members)

	_, _, err = manager.Rotate(ctx, uuid.Nil, newAccess, token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
