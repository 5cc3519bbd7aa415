package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/grafana/logstream/config"
	"github.com/grafana/logstream/persister"
	"github.com/grafana/logstream/rollup"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Path = t.TempDir()
	return cfg
}

// spec.md §8 scenario #4.
func TestPartition_EmptyCreation(t *testing.T) {
	cfg := newTestConfig(t)
	streamCounters := rollup.New(nil, nil, nil, nil, nil)

	p, err := New(1, 2, 3, cfg, false, NeverExpire(), persister.NewSyncPersister(), streamCounters, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, p.SegmentCount())
	cur, has := p.CurrentOffset()
	assert.EqualValues(t, 0, cur)
	assert.False(t, has)
	assert.Empty(t, p.consumerOffsets.All())
}

// spec.md §8 scenario #5.
func TestPartition_SingleSegmentCreation(t *testing.T) {
	cfg := newTestConfig(t)
	parentStreamSegments := atomic.NewUint32(0)
	counters := rollup.New(nil, nil, nil, nil, parentStreamSegments)

	p, err := New(1, 2, 3, cfg, true, NeverExpire(), persister.NewSyncPersister(), counters, nil)
	require.NoError(t, err)

	require.Equal(t, 1, p.SegmentCount())
	assert.Equal(t, cfg.PartitionPath(1, 2, 3), p.Path)
	assert.EqualValues(t, 1, parentStreamSegments.Load())
}

func TestPartition_DisplayFormat(t *testing.T) {
	cfg := newTestConfig(t)
	counters := rollup.New(nil, nil, nil, nil, nil)
	p, err := New(7, 8, 9, cfg, true, NeverExpire(), persister.NewSyncPersister(), counters, nil)
	require.NoError(t, err)

	want := "Partition { stream ID: 7, topic ID: 8, partition_id: 9, path: " + p.Path + ", current_offset: 0 }"
	assert.Equal(t, want, p.String())
}
