package partition

import (
	"time"

	"go.uber.org/multierr"

	"github.com/grafana/logstream/dedup"
	"github.com/grafana/logstream/enginerr"
	"github.com/grafana/logstream/metrics"
	"github.com/grafana/logstream/offsetstore"
	"github.com/grafana/logstream/segment"
)

// IncomingMessage is one producer-supplied message awaiting assignment of an
// offset. ID is nil when the producer supplied no dedup key.
type IncomingMessage struct {
	ID        *dedup.ID
	Payload   []byte
	Timestamp time.Time
}

// AppendMessages assigns monotonically increasing offsets to the messages
// that survive deduplication and delegates the contiguous write to the
// Segment Store, spec.md §4.5 append_messages. Duplicates (by producer id)
// are silently dropped and do not consume an offset.
func (p *Partition) AppendMessages(messages []IncomingMessage) (firstOffset uint64, appended int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	toAppend := make([]segment.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != nil && !p.dedup.TryInsert(*m.ID) {
			metrics.DeduplicationRejected.Inc()
			continue
		}
		toAppend = append(toAppend, segment.Message{Payload: m.Payload, Timestamp: m.Timestamp})
	}
	if len(toAppend) == 0 {
		return 0, 0, nil
	}

	start := time.Now()
	first, err := p.segments.Append(toAppend)
	metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, 0, err
	}
	p.updateAvgDelta(toAppend)
	return first, len(toAppend), nil
}

// PollMessages resolves a starting offset (explicit position, the named
// consumer's last commit, or the oldest retained offset) and streams up to
// count messages or maxBytes from the Segment Store, crossing segment
// boundaries as needed, spec.md §4.5 poll_messages.
func (p *Partition) PollMessages(kind offsetstore.Kind, consumerID uint32, explicit *uint64, count int, maxBytes uint64) ([]segment.Record, uint64, error) {
	start := p.resolveStart(kind, consumerID, explicit)
	return p.segments.Read(start, count, maxBytes)
}

func (p *Partition) resolveStart(kind offsetstore.Kind, consumerID uint32, explicit *uint64) uint64 {
	if explicit != nil {
		return *explicit
	}
	if off, ok := p.offsetStoreFor(kind).Get(consumerID); ok {
		return off.Value + 1
	}
	return p.oldestOffset()
}

func (p *Partition) oldestOffset() uint64 {
	segs := p.segments.Segments()
	if len(segs) == 0 {
		return 0
	}
	return segs[0].StartOffset
}

func (p *Partition) offsetStoreFor(kind offsetstore.Kind) *offsetstore.Store {
	if kind == offsetstore.ConsumerGroup {
		return p.consumerGroupOffsets
	}
	return p.consumerOffsets
}

// CommitOffset validates offset against the current high-water mark, then
// upserts the in-memory entry and writes the consumer's offset file, spec.md
// §4.5 commit_offset. An offset beyond current_offset fails with
// OffsetOutOfRangeError and leaves state untouched; so does any commit on a
// partition that has never had should_increment_offset set, since no offset
// is valid yet.
func (p *Partition) CommitOffset(kind offsetstore.Kind, consumerID uint32, offset uint64) error {
	cur, has := p.CurrentOffset()
	if !has || offset > cur {
		metrics.ConsumerOffsetCommitErrors.WithLabelValues(kind.String()).Inc()
		return &enginerr.OffsetOutOfRangeError{Requested: offset, Available: cur}
	}
	if err := p.offsetStoreFor(kind).Save(consumerID, offset); err != nil {
		metrics.ConsumerOffsetCommitErrors.WithLabelValues(kind.String()).Inc()
		return err
	}
	metrics.ConsumerOffsetCommits.WithLabelValues(kind.String()).Inc()
	return nil
}

// RemoveConsumerOffset deletes a consumer's committed position, supplementing
// spec.md §3's "until the consumer is explicitly removed" (SPEC_FULL.md §12.5).
func (p *Partition) RemoveConsumerOffset(kind offsetstore.Kind, consumerID uint32) error {
	return p.offsetStoreFor(kind).Remove(consumerID)
}

// Purge deletes all segments, wipes both consumer offset directories, and
// resets counters to zero, spec.md §4.5 purge. The partition is left with
// zero segments, equivalent to an empty (with_segment=false) creation.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var merr error
	if err := p.segments.DeleteAll(); err != nil {
		merr = multierr.Append(merr, err)
	}
	if err := p.consumerOffsets.DeleteAll(); err != nil {
		merr = multierr.Append(merr, err)
	}
	if err := p.consumerGroupOffsets.DeleteAll(); err != nil {
		merr = multierr.Append(merr, err)
	}
	p.counters.Reset()
	p.lastAppendAt = time.Time{}
	p.avgTimestampDelta = 0
	return merr
}
