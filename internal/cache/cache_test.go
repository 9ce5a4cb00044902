package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_DeterministicAndContentSensitive(t *testing.T) {
	a := Key([]byte(`{"handler":"sleep","data":{"duration":"1s"}}`))
	b := Key([]byte(`{"handler":"sleep","data":{"duration":"1s"}}`))
	c := Key([]byte(`{"handler":"sleep","data":{"duration":"2s"}}`))

	assert.Equal(t, a, b, "identical payloads share a key")
	assert.NotEqual(t, a, c, "different payloads get different keys")
	assert.Len(t, a, 64, "sha256 hex")
}

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "cold cache misses")

	require.NoError(t, m.Set(ctx, "k", []byte("result")))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("result"), got)
}

func TestMemory_ExpiryCheckedAtRead(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("result")))

	// Age the entry past the TTL.
	m.mu.Lock()
	e := m.entries["k"]
	e.recordedAt = time.Now().Add(-2 * time.Minute)
	m.entries["k"] = e
	m.mu.Unlock()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry treated as absent")

	m.mu.Lock()
	_, present := m.entries["k"]
	m.mu.Unlock()
	assert.False(t, present, "expired entry evicted on read")
}
