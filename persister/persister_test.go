package persister

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncPersister_WriteThenReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.log")

	p := NewSyncPersister()
	assert.True(t, p.Sync())

	n, err := p.Write(path, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = p.Write(path, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(b))
}

func TestAsyncPersister_DoesNotReportSync(t *testing.T) {
	p := NewAsyncPersister()
	assert.False(t, p.Sync())

	dir := t.TempDir()
	path := filepath.Join(dir, "segment.log")
	_, err := p.Write(path, []byte("abc"))
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}

func TestSyncPersister_WriteAtTruncatesExactly8Bytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1")

	p := NewSyncPersister()
	buf := make([]byte, 8)
	buf[0] = 42
	_, err := p.WriteAt(path, buf, 0)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size())
}

func TestSyncPersister_WriteFailsOnUnwritablePath(t *testing.T) {
	p := NewSyncPersister()
	_, err := p.Write(filepath.Join(string([]byte{0}), "nope"), []byte("x"))
	assert.Error(t, err)
}
