// Package partition implements the Partition struct and its Coordinator,
// spec.md §3 and §4.5: the unit that owns one stream/topic's shard of the
// append-only log, aggregating the Segment Store, the two Consumer Offset
// Stores, and the optional Deduplicator behind a single serialization point.
package partition

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"

	"github.com/grafana/logstream/config"
	"github.com/grafana/logstream/dedup"
	"github.com/grafana/logstream/enginerr"
	"github.com/grafana/logstream/offsetstore"
	"github.com/grafana/logstream/persister"
	"github.com/grafana/logstream/rollup"
	"github.com/grafana/logstream/segment"
)

// MessageExpiry is one of {NeverExpire, ExpireAfter(duration)}, spec.md §3.
type MessageExpiry struct {
	after time.Duration
}

// NeverExpire returns a MessageExpiry under which segments are never purged
// for age.
func NeverExpire() MessageExpiry { return MessageExpiry{} }

// ExpireAfter returns a MessageExpiry under which a closed segment becomes
// eligible for deletion once every message in it is older than d.
func ExpireAfter(d time.Duration) MessageExpiry { return MessageExpiry{after: d} }

// Duration reports the configured expiry and whether expiry is enabled at all.
func (e MessageExpiry) Duration() (time.Duration, bool) { return e.after, e.after > 0 }

// avgDeltaAlpha is the smoothing factor for avg_timestamp_delta,
// SPEC_FULL.md §12.4 — not specified by spec.md itself.
const avgDeltaAlpha = 0.25

// Partition is the smallest independently-append-ordered unit of storage,
// addressed by (stream_id, topic_id, partition_id), spec.md §3.
type Partition struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Path        string

	CreatedAt time.Time

	// mu serializes append_messages on this partition, spec.md §5: "All
	// append_messages calls on a single partition are serialized; reads
	// proceed concurrently with appends."
	mu *sync.Mutex

	segments             *segment.Store
	consumerOffsets      *offsetstore.Store
	consumerGroupOffsets *offsetstore.Store
	dedup                *dedup.Deduplicator
	counters             *rollup.Counters

	messageExpiry     MessageExpiry
	lastAppendAt      time.Time
	avgTimestampDelta time.Duration

	logger log.Logger
}

// New creates a Partition rooted under cfg's deterministic path for
// (streamID, topicID, partitionID). withSegment controls whether an initial
// segment at offset 0 is created now (spec.md §3 Lifecycles, §8 scenarios
// #4/#5).
func New(streamID, topicID, partitionID uint32, cfg *config.Config, withSegment bool, expiry MessageExpiry, p persister.Persister, counters *rollup.Counters, logger log.Logger) (*Partition, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	path := cfg.PartitionPath(streamID, topicID, partitionID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, enginerr.NewIOError(path, err)
	}

	limits := segment.Limits{
		SegmentSize:         cfg.SegmentSize,
		SegmentMessageCount: cfg.SegmentMessageCount,
		SegmentTime:         cfg.SegmentTime,
	}
	store := segment.NewStore(path, limits, counters, p, logger)
	if withSegment {
		if err := store.CreateInitial(); err != nil {
			return nil, err
		}
	}

	var dd *dedup.Deduplicator
	if cfg.MessageDeduplication.Enabled {
		dd = dedup.New(cfg.MessageDeduplication.MaxEntries, cfg.MessageDeduplication.Expiry)
	}

	return &Partition{
		StreamID:             streamID,
		TopicID:              topicID,
		PartitionID:          partitionID,
		Path:                 path,
		CreatedAt:            time.Now(),
		mu:                   &sync.Mutex{},
		segments:             store,
		consumerOffsets:      offsetstore.New(offsetstore.Consumer, cfg.ConsumerOffsetsPath(streamID, topicID, partitionID), p, logger),
		consumerGroupOffsets: offsetstore.New(offsetstore.ConsumerGroup, cfg.ConsumerGroupOffsetsPath(streamID, topicID, partitionID), p, logger),
		dedup:                dd,
		counters:             counters,
		messageExpiry:        expiry,
		logger:               logger,
	}, nil
}

// CurrentOffset returns the offset of the most recently appended message and
// whether the partition has ever received one (should_increment_offset),
// spec.md §3. This is store-wide, not the active segment alone: right after
// a roll-over the active segment is freshly empty, so a reader must fall
// back to the last segment that actually holds messages (segment/store.go's
// Store.CurrentOffset).
func (p *Partition) CurrentOffset() (uint64, bool) {
	return p.segments.CurrentOffset()
}

// SegmentCount reports how many segments currently back this partition.
func (p *Partition) SegmentCount() int {
	return len(p.segments.Segments())
}

// SizeBytes implements the Sizeable view the engine exposes to collaborators,
// spec.md §6: the partition's total on-disk log size.
func (p *Partition) SizeBytes() uint64 {
	return p.counters.SizeBytes.Load()
}

// String renders the Display form, a contractual, operator-visible string
// (spec.md §9, SPEC_FULL.md §12.3): reproduced character-for-character.
func (p *Partition) String() string {
	cur, _ := p.CurrentOffset()
	return fmt.Sprintf("Partition { stream ID: %d, topic ID: %d, partition_id: %d, path: %s, current_offset: %d }",
		p.StreamID, p.TopicID, p.PartitionID, p.Path, cur)
}

// Load recovers segments and then consumer offsets from disk, in that order
// (spec.md §4.5 load).
func (p *Partition) Load() error {
	if err := p.segments.Load(); err != nil {
		return err
	}
	if err := p.consumerOffsets.Load(); err != nil {
		return err
	}
	if err := p.consumerGroupOffsets.Load(); err != nil {
		return err
	}
	return nil
}

// PurgeExpiredSegments deletes closed segments past the configured
// message_expiry, a no-op under NeverExpire.
func (p *Partition) PurgeExpiredSegments() error {
	d, ok := p.messageExpiry.Duration()
	if !ok {
		return nil
	}
	return p.segments.PurgeExpired(time.Now(), d)
}

// updateAvgDelta maintains avg_timestamp_delta as an EMA over successive
// append timestamps (SPEC_FULL.md §12.4, an Open Question the distillation
// left unresolved). It feeds only diagnostics; time-based roll-over uses
// now - created_at per spec.md §4.2, not this average.
func (p *Partition) updateAvgDelta(messages []segment.Message) {
	for _, m := range messages {
		if !p.lastAppendAt.IsZero() {
			delta := m.Timestamp.Sub(p.lastAppendAt)
			if p.avgTimestampDelta == 0 {
				p.avgTimestampDelta = delta
			} else {
				p.avgTimestampDelta = time.Duration(avgDeltaAlpha*float64(delta) + (1-avgDeltaAlpha)*float64(p.avgTimestampDelta))
			}
		}
		p.lastAppendAt = m.Timestamp
	}
}

// AvgTimestampDelta returns the current inter-append spacing estimate.
func (p *Partition) AvgTimestampDelta() time.Duration {
	return p.avgTimestampDelta
}
