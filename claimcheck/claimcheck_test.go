package claimcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, threshold int) *Manager {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewManager(ManagerOptions{Store: store, Threshold: threshold})
	require.NoError(t, err)
	return m
}

func largePayload(size int) json.RawMessage {
	data := bytes.Repeat([]byte("a"), size)
	return json.RawMessage(fmt.Sprintf(`{"data":%q}`, data))
}

func TestSmallPayloadPassesThrough(t *testing.T) {
	m := newTestManager(t, 1024)
	payload := json.RawMessage(`{"x":1}`)

	out, err := m.MaybeOffload(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.False(t, IsRef(out))
}

func TestLargePayloadRoundTrip(t *testing.T) {
	m := newTestManager(t, 64)
	payload := largePayload(256)

	ref, err := m.MaybeOffload(context.Background(), payload)
	require.NoError(t, err)
	require.True(t, IsRef(ref))
	assert.Less(t, len(ref), len(payload))

	var decoded Ref
	require.NoError(t, json.Unmarshal(ref, &decoded))
	assert.Equal(t, len(payload), decoded.Size)

	resolved, err := m.MaybeResolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, payload, resolved)
}

func TestResolveNonRefPassesThrough(t *testing.T) {
	m := newTestManager(t, 64)
	payload := json.RawMessage(`{"x":1}`)

	out, err := m.MaybeResolve(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestResolveMissingPayloadFails(t *testing.T) {
	m := newTestManager(t, 64)
	ref, err := json.Marshal(Ref{Key: "gone"})
	require.NoError(t, err)

	_, err = m.MaybeResolve(context.Background(), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRelease(t *testing.T) {
	m := newTestManager(t, 64)
	ref, err := m.MaybeOffload(context.Background(), largePayload(256))
	require.NoError(t, err)

	require.NoError(t, m.Release(context.Background(), ref))
	_, err = m.MaybeResolve(context.Background(), ref)
	require.Error(t, err)

	// Releasing twice is a no-op.
	require.NoError(t, m.Release(context.Background(), ref))

	// Releasing a non-ref payload is a no-op.
	require.NoError(t, m.Release(context.Background(), json.RawMessage(`{"x":1}`)))
}

func TestFSStoreHealthAndListKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Health(ctx))

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	k1, err := store.Put(ctx, []byte("one"))
	require.NoError(t, err)
	k2, err := store.Put(ctx, []byte("two"))
	require.NoError(t, err)

	keys, err = store.ListKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{k1, k2}, keys)

	require.NoError(t, store.Delete(ctx, k1))
	keys, err = store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{k2}, keys)
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := store.Get(context.Background(), key)
		assert.Error(t, err, "key %q", key)
	}
}
