// Package rollup implements the shared atomic counters a Partition contributes
// to its parent Topic and Stream (spec.md §9 design note: "Shared rollup
// counters"). A Counter is a single heap cell shared by pointer between the
// owning levels; updates use sequentially-consistent fetch-add so
// administrative readers see a value no older than their call, matching the
// original's Arc<AtomicU64>/Arc<AtomicU32> fields on Partition.
package rollup

import "go.uber.org/atomic"

// Counters bundles the atomic rollups a Partition maintains locally and feeds
// into its parent topic and stream, mirroring partition.rs's
// messages_count_of_parent_{stream,topic}, size_of_parent_{stream,topic},
// messages_count, size_bytes, and segments_count_of_parent_stream fields.
type Counters struct {
	MessagesCount              *atomic.Uint64
	SizeBytes                  *atomic.Uint64
	MessagesCountOfParentTopic *atomic.Uint64
	MessagesCountOfParentStream *atomic.Uint64
	SizeOfParentTopic          *atomic.Uint64
	SizeOfParentStream         *atomic.Uint64
	SegmentsCountOfParentStream *atomic.Uint32
}

// New constructs a fresh, zeroed Counters bundle, parented to the given shared
// stream/topic cells. Passing nil for any parent cell is valid for tests that
// don't need rollup visibility above the partition.
func New(parentStreamMessages, parentTopicMessages *atomic.Uint64, parentStreamSize, parentTopicSize *atomic.Uint64, parentStreamSegments *atomic.Uint32) *Counters {
	if parentStreamMessages == nil {
		parentStreamMessages = atomic.NewUint64(0)
	}
	if parentTopicMessages == nil {
		parentTopicMessages = atomic.NewUint64(0)
	}
	if parentStreamSize == nil {
		parentStreamSize = atomic.NewUint64(0)
	}
	if parentTopicSize == nil {
		parentTopicSize = atomic.NewUint64(0)
	}
	if parentStreamSegments == nil {
		parentStreamSegments = atomic.NewUint32(0)
	}
	return &Counters{
		MessagesCount:               atomic.NewUint64(0),
		SizeBytes:                   atomic.NewUint64(0),
		MessagesCountOfParentTopic:  parentTopicMessages,
		MessagesCountOfParentStream: parentStreamMessages,
		SizeOfParentTopic:           parentTopicSize,
		SizeOfParentStream:          parentStreamSize,
		SegmentsCountOfParentStream: parentStreamSegments,
	}
}

// AddMessages records count newly appended messages at every level.
func (c *Counters) AddMessages(count uint64) {
	c.MessagesCount.Add(count)
	c.MessagesCountOfParentTopic.Add(count)
	c.MessagesCountOfParentStream.Add(count)
}

// AddBytes records size additional bytes written at every level.
func (c *Counters) AddBytes(size uint64) {
	c.SizeBytes.Add(size)
	c.SizeOfParentTopic.Add(size)
	c.SizeOfParentStream.Add(size)
}

// SubBytes removes size bytes at every level, used when a segment is deleted.
func (c *Counters) SubBytes(size uint64) {
	c.SizeBytes.Sub(size)
	c.SizeOfParentTopic.Sub(size)
	c.SizeOfParentStream.Sub(size)
}

// SubMessages removes count messages at every level, used when a segment is deleted.
func (c *Counters) SubMessages(count uint64) {
	c.MessagesCount.Sub(count)
	c.MessagesCountOfParentTopic.Sub(count)
	c.MessagesCountOfParentStream.Sub(count)
}

// IncSegments records a new segment created for the parent stream's rollup.
func (c *Counters) IncSegments() {
	c.SegmentsCountOfParentStream.Add(1)
}

// DecSegments records a segment deleted from the parent stream's rollup.
func (c *Counters) DecSegments() {
	c.SegmentsCountOfParentStream.Sub(1)
}

// Reset zeroes the local counters, used by Partition.Purge. Parent rollups are
// decremented by the caller with the pre-reset values before Reset is called.
func (c *Counters) Reset() {
	c.MessagesCount.Store(0)
	c.SizeBytes.Store(0)
}
