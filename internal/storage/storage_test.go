package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilesystemStore(t *testing.T) {
	t.Parallel()

	t.Run("creates the base directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "objects")
		_, err := NewFilesystemStore(dir, "/static")
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects empty base directory", func(t *testing.T) {
		t.Parallel()
		_, err := NewFilesystemStore("", "/static")
		assert.Error(t, err)
	})
}

func TestFilesystemStore_Put(t *testing.T) {
	t.Parallel()

	t.Run("writes payload and returns public url", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s, err := NewFilesystemStore(dir, "/static")
		require.NoError(t, err)

		url, err := s.Put(context.Background(), "jobs/abc/slot_0.png", []byte("png-bytes"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, "/static/jobs/abc/slot_0.png", url)

		data, err := os.ReadFile(filepath.Join(dir, "jobs", "abc", "slot_0.png"))
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)
	})

	t.Run("overwrites an existing object", func(t *testing.T) {
		t.Parallel()
		s, err := NewFilesystemStore(t.TempDir(), "/static")
		require.NoError(t, err)

		_, err = s.Put(context.Background(), "a.png", []byte("first"), "image/png")
		require.NoError(t, err)
		url, err := s.Put(context.Background(), "a.png", []byte("second"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, "/static/a.png", url)
	})

	t.Run("strips trailing slash from base url", func(t *testing.T) {
		t.Parallel()
		s, err := NewFilesystemStore(t.TempDir(), "http://localhost:8080/static/")
		require.NoError(t, err)

		url, err := s.Put(context.Background(), "a.png", []byte("x"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/static/a.png", url)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		t.Parallel()
		s, err := NewFilesystemStore(t.TempDir(), "/static")
		require.NoError(t, err)

		_, err = s.Put(context.Background(), "a.png", nil, "image/png")
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("rejects traversal keys", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s, err := NewFilesystemStore(filepath.Join(dir, "objects"), "/static")
		require.NoError(t, err)

		for _, key := range []string{"", "   ", "..", "../escape.png", "a/../../escape.png", `..\escape.png`} {
			_, err := s.Put(context.Background(), key, []byte("x"), "image/png")
			assert.Error(t, err, "key %q", key)
		}

		// Nothing escaped the object root.
		_, err = os.Stat(filepath.Join(dir, "escape.png"))
		assert.True(t, os.IsNotExist(err))
	})
}
