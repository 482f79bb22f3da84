package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBytesAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "labels.json")

	require.NoError(t, WriteBytesAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteBytesAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
	assert.Equal(t, "labels.json", entries[0].Name())
}

func TestWriteFileAtomicFailureKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.json")
	require.NoError(t, WriteBytesAtomic(path, []byte("old"), 0644))

	boom := errors.New("boom")
	err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.npy")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.True(t, Exists(path))

	removed, err := RemoveIfExists(path)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, Exists(path))

	removed, err = RemoveIfExists(path)
	require.NoError(t, err)
	assert.False(t, removed)
}
