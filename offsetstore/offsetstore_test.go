package offsetstore

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/logstream/persister"
)

// spec.md §8 scenario #1: persist and reload consumer offsets for consumer
// ids {1,2,3}, each committing offsets {0..5} in turn; after consumer N has
// committed, load_all must return exactly N entries, each at offset 5, with
// path == "{base}/{consumer_id}". Exercised for both Consumer and
// ConsumerGroup kinds.
func TestStore_PersistAndReloadConsumerOffsets(t *testing.T) {
	for _, kind := range []Kind{Consumer, ConsumerGroup} {
		t.Run(kind.String(), func(t *testing.T) {
			dir := t.TempDir()
			st := New(kind, dir, persister.NewSyncPersister(), nil)

			for n, consumerID := range []uint32{1, 2, 3} {
				for offset := uint64(0); offset <= 5; offset++ {
					require.NoError(t, st.Save(consumerID, offset))
				}

				reloaded := New(kind, dir, persister.NewSyncPersister(), nil)
				require.NoError(t, reloaded.Load())

				all := reloaded.All()
				require.Len(t, all, n+1)
				for i, off := range all {
					assert.EqualValues(t, i+1, off.ConsumerID)
					assert.EqualValues(t, 5, off.Value)
					assert.Equal(t, dir+"/"+strconv.FormatUint(uint64(off.ConsumerID), 10), off.Path)
					assert.Equal(t, kind, off.Kind)
				}
			}
		})
	}
}

// Round-trip law from spec.md §8: save_offset(v, p) followed by load_all
// must reproduce v at p. go-cmp gives a readable diff on mismatch instead of
// a bare equality assertion.
func TestStore_SaveThenLoadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	st := New(ConsumerGroup, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, st.Save(9, 123))

	reloaded := New(ConsumerGroup, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, reloaded.Load())

	want := Offset{Kind: ConsumerGroup, ConsumerID: 9, Value: 123, Path: dir + "/9"}
	got := reloaded.All()[0]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("consumer offset round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LoadAllOrderedByConsumerIDAscending(t *testing.T) {
	dir := t.TempDir()
	st := New(Consumer, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, st.Save(3, 30))
	require.NoError(t, st.Save(1, 10))
	require.NoError(t, st.Save(2, 20))

	all := st.All()
	require.Len(t, all, 3)
	assert.EqualValues(t, []uint32{1, 2, 3}, []uint32{all[0].ConsumerID, all[1].ConsumerID, all[2].ConsumerID})
}

func TestStore_LoadSkipsNonNumericAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	st := New(Consumer, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, st.Save(1, 42))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-number"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2"), []byte{1, 2, 3}, 0644))

	reloaded := New(Consumer, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, reloaded.Load())

	all := reloaded.All()
	require.Len(t, all, 1)
	assert.EqualValues(t, 1, all[0].ConsumerID)
	assert.EqualValues(t, 42, all[0].Value)
}

func TestStore_Remove(t *testing.T) {
	dir := t.TempDir()
	st := New(Consumer, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, st.Save(1, 7))

	require.NoError(t, st.Remove(1))
	_, ok := st.Get(1)
	assert.False(t, ok)

	reloaded := New(Consumer, dir, persister.NewSyncPersister(), nil)
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.All())
}
