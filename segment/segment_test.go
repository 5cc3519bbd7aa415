package segment

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/logstream/persister"
)

// failingPersister fails Write for one specific path on its failAt-th call
// to that path, passing every other call through to the wrapped Persister.
type failingPersister struct {
	persister.Persister
	failPath string
	failAt   int
	calls    int
}

func (f *failingPersister) Write(path string, b []byte) (int, error) {
	if path == f.failPath {
		f.calls++
		if f.calls == f.failAt {
			return 0, errors.New("injected write failure")
		}
	}
	return f.Persister.Write(path, b)
}

func TestSegment_FirstAppendLandsAtStartOffset(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	first, err := s.Append([]Message{{Payload: []byte("a"), Timestamp: time.Now()}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, first)

	cur, has := s.CurrentOffset()
	assert.True(t, has)
	assert.EqualValues(t, 0, cur)
}

func TestSegment_AppendIsContiguousAndMonotonic(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Append([]Message{{Payload: []byte{byte(i)}, Timestamp: time.Now()}})
		require.NoError(t, err)
	}

	records, next, err := s.Read(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.EqualValues(t, i, r.Offset)
		assert.Equal(t, []byte{byte(i)}, r.Payload)
	}
	assert.EqualValues(t, 5, next)
}

func TestSegment_ReadPastCurrentOffsetReturnsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	_, err = s.Append([]Message{{Payload: []byte("x"), Timestamp: time.Now()}})
	require.NoError(t, err)

	records, next, err := s.Read(1, 1<<20)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.EqualValues(t, 1, next)
}

func TestSegment_CloseIsIdempotentAndPreventsAppend(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	s.Close()
	s.Close()
	assert.False(t, s.IsActive)

	_, err = s.Append([]Message{{Payload: []byte("x"), Timestamp: time.Now()}})
	assert.Error(t, err)
}

func TestSegment_DeleteRemovesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)
	s.Close()

	require.NoError(t, s.Delete())
	for _, p := range []string{s.LogPath, s.IndexPath, s.TimeIndexPath} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestSegment_ShouldRollOverBoundaries(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	_, err = s.Append([]Message{{Payload: make([]byte, 100), Timestamp: time.Now()}})
	require.NoError(t, err)

	assert.True(t, s.ShouldRollOver(Limits{SegmentSize: s.Size}))
	assert.False(t, s.ShouldRollOver(Limits{SegmentSize: s.Size + 1}))
	assert.True(t, s.ShouldRollOver(Limits{SegmentMessageCount: 1}))
	assert.False(t, s.ShouldRollOver(Limits{SegmentMessageCount: 2}))
}

// A failed index write after a successful log write must not leave stray
// log bytes that corrupt the position recorded for a later, successful
// append (rollback must truncate the files, not just revert in-memory state).
func TestSegment_AppendRollbackTruncatesStrayLogBytesOnIndexWriteFailure(t *testing.T) {
	dir := t.TempDir()
	real := persister.NewSyncPersister()
	s, err := New(dir, 0, nil, real, nil)
	require.NoError(t, err)

	_, err = s.Append([]Message{{Payload: []byte("first"), Timestamp: time.Now()}})
	require.NoError(t, err)

	s.persister = &failingPersister{Persister: real, failPath: s.IndexPath, failAt: 1}
	_, err = s.Append([]Message{{Payload: []byte("BADBAD"), Timestamp: time.Now()}})
	require.Error(t, err, "injected index-write failure must surface")

	s.persister = real
	_, err = s.Append([]Message{{Payload: []byte("third"), Timestamp: time.Now()}})
	require.NoError(t, err)

	records, _, err := s.Read(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, records, 2, "the failed append must not corrupt a later record's position")
	assert.Equal(t, []byte("first"), records[0].Payload)
	assert.Equal(t, []byte("third"), records[1].Payload)
}

func TestLoad_TruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := s.Append([]Message{{Payload: []byte{byte(i)}, Timestamp: time.Now()}})
		require.NoError(t, err)
	}

	// simulate a torn write: chop the last 3 bytes off the log file
	info, err := os.Stat(s.LogPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(s.LogPath, info.Size()-3))

	loaded, err := Load(dir, 0, nil, persister.NewSyncPersister(), nil)
	require.NoError(t, err)

	cur, has := loaded.CurrentOffset()
	require.True(t, has)
	assert.EqualValues(t, 8, cur, "the 9th message (offset 8) should be the last surviving record")
	assert.EqualValues(t, 9, loaded.MessagesCount)
}
