package keymanager

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/accesslog/pkg/cache"
)

var now = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func newManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := cache.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rdb.Close() })
	m := New(rdb)
	m.now = func() time.Time { return now }
	return m
}

func TestCreateAndGetKey(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	k, err := m.CreateKey(ctx, KeySpec{Name: "ci", UserID: "alice", Quota: 10, ExpiresIn: time.Hour})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k.Key, KeyPrefix))
	assert.True(t, k.Active)
	require.NotNil(t, k.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *k.ExpiresAt)

	got, err := m.GetKey(ctx, k.Key)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, int64(10), got.Quota)

	_, err = m.GetKey(ctx, "alog_missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCreateKey_Validation(t *testing.T) {
	m := newManager(t)

	_, err := m.CreateKey(context.Background(), KeySpec{Name: "ci"})
	assert.Error(t, err)
}

func TestRevokeAndListKeys(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	a, err := m.CreateKey(ctx, KeySpec{Name: "a", UserID: "alice"})
	require.NoError(t, err)
	b, err := m.CreateKey(ctx, KeySpec{Name: "b", UserID: "alice"})
	require.NoError(t, err)
	_, err = m.CreateKey(ctx, KeySpec{Name: "c", UserID: "bob"})
	require.NoError(t, err)

	require.NoError(t, m.RevokeKey(ctx, a.Key))

	keys, err := m.ListUserKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	active, err := m.ListActiveKeys(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(active))
	for _, k := range active {
		names = append(names, k.Name)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, names)

	require.NoError(t, m.DeleteKey(ctx, b.Key))
	keys, err = m.ListUserKeys(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, a.Key, keys[0].Key)

	assert.ErrorIs(t, m.DeleteKey(ctx, b.Key), ErrKeyNotFound)
}

func TestIncrementUsage(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	k, err := m.CreateKey(ctx, KeySpec{Name: "a", UserID: "alice", Quota: 2})
	require.NoError(t, err)

	require.NoError(t, m.IncrementUsage(ctx, k.Key))
	require.NoError(t, m.IncrementUsage(ctx, k.Key))

	got, err := m.GetKey(ctx, k.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Used)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.QuotaExceeded())
}

func TestRotateKey(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	old, err := m.CreateKey(ctx, KeySpec{Name: "a", UserID: "alice", ExpiresIn: 2 * time.Hour})
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(time.Hour) }
	fresh, err := m.RotateKey(ctx, old.Key)
	require.NoError(t, err)

	assert.NotEqual(t, old.Key, fresh.Key)
	assert.Equal(t, "alice", fresh.UserID)
	require.NotNil(t, fresh.ExpiresAt)
	assert.Equal(t, now.Add(2*time.Hour), *fresh.ExpiresAt)
	assert.True(t, strings.HasPrefix(fresh.Description, "Rotated from "))

	got, err := m.GetKey(ctx, old.Key)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestAPIKeyChecks(t *testing.T) {
	exp := now
	k := &APIKey{ExpiresAt: &exp, Quota: 0, Used: 100}

	assert.False(t, k.Expired(now))
	assert.True(t, k.Expired(now.Add(time.Second)))
	assert.False(t, k.QuotaExceeded(), "zero quota is unlimited")
}
