package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the behavior every backend must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok, "missing key is not an error")

	require.NoError(t, kv.Set(ctx, "user", []byte(`{"id":"1","name":"ann"}`)))
	value, ok, err := kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"1","name":"ann"}`, string(value))

	require.NoError(t, kv.Set(ctx, "user", []byte(`{"id":"1","name":"bea"}`)))
	value, _, err = kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","name":"bea"}`, string(value))

	require.NoError(t, kv.Remove(ctx, "user"))
	_, ok, err = kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Remove(ctx, "user"), "removing a missing key succeeds")
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", value))
	value[0] = 'z'

	got, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFile(t *testing.T) {
	cases := []struct {
		name   string
		secret string
	}{
		{name: "plain"},
		{name: "sealed", secret: "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFile(t.TempDir(), tc.secret)
			require.NoError(t, err)
			exerciseKV(t, f)
		})
	}
}

func TestFileSealedRecordIsOpaque(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	f, err := NewFile(dir, "s3cret")
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "user", []byte(`{"name":"ann"}`)))

	raw, err := os.ReadFile(filepath.Join(dir, "user.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ann")

	other, err := NewFile(dir, "wrong")
	require.NoError(t, err)
	_, _, err = other.Get(ctx, "user")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorContains(t, err, "authentication")
}

func TestFileTruncatedSealedRecordIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.json"), []byte("short"), 0o600))

	f, err := NewFile(dir, "s3cret")
	require.NoError(t, err)
	_, ok, err := f.Get(context.Background(), "user")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, ok)
}

func TestFileSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, "")
	require.NoError(t, err)
	require.NoError(t, f.Set(context.Background(), "../escape", []byte("x")))

	_, err = os.Stat(filepath.Join(dir, ".._escape.json"))
	assert.NoError(t, err)
}
