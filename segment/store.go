package segment

import (
	"math"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/logstream/enginerr"
	"github.com/grafana/logstream/metrics"
	"github.com/grafana/logstream/persister"
	"github.com/grafana/logstream/rollup"
)

// Store owns the ordered, disjoint, contiguous sequence of segments for one
// partition (spec.md §3 invariants) and drives roll-over, spec.md §4.2.
type Store struct {
	dir       string
	limits    Limits
	counters  *rollup.Counters
	persister persister.Persister
	logger    log.Logger

	segments []*Segment
}

// NewStore constructs an empty store rooted at dir. Call CreateInitial to
// seed it with a segment at offset 0, or Load to recover from disk.
func NewStore(dir string, limits Limits, counters *rollup.Counters, p persister.Persister, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{dir: dir, limits: limits, counters: counters, persister: p, logger: logger}
}

// CreateInitial creates the partition's first segment at offset 0, used when
// a Partition is created with with_segment=true (spec.md §3 Lifecycles).
func (st *Store) CreateInitial() error {
	s, err := New(st.dir, 0, st.counters, st.persister, st.logger)
	if err != nil {
		return err
	}
	st.segments = append(st.segments, s)
	if st.counters != nil {
		st.counters.IncSegments()
	}
	return nil
}

// recoveryConcurrency bounds how many segment files are validated and
// rebuilt in parallel at startup, generalizing friggdb/pool/pool.go's
// hand-rolled worker pool into the errgroup idiom (SPEC_FULL.md §11).
const recoveryConcurrency = 8

// Load recovers every segment file under dir in ascending start-offset order
// and marks the last one active, spec.md §4.2 Recovery at startup. Segments
// are loaded concurrently (bounded) since each is an independent file-trio
// scan; the result slice preserves start-offset order regardless of
// completion order.
func (st *Store) Load() error {
	offsets, err := ListSegmentFiles(st.dir)
	if err != nil {
		return err
	}

	segments := make([]*Segment, len(offsets))
	var g errgroup.Group
	g.SetLimit(recoveryConcurrency)
	for i, off := range offsets {
		i, off := i, off
		g.Go(func() error {
			s, err := Load(st.dir, off, st.counters, st.persister, st.logger)
			if err != nil {
				return err
			}
			segments[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(segments) > 0 {
		segments[len(segments)-1].IsActive = true
	}
	if st.counters != nil {
		for _, s := range segments {
			st.counters.AddMessages(s.MessagesCount)
			st.counters.AddBytes(s.Size)
			st.counters.IncSegments()
		}
	}
	st.segments = segments
	return nil
}

// Segments returns the ordered segment slice. Callers must not mutate it.
func (st *Store) Segments() []*Segment {
	return st.segments
}

// Active returns the current active (writable) segment, or nil if none exist.
func (st *Store) Active() *Segment {
	if len(st.segments) == 0 {
		return nil
	}
	return st.segments[len(st.segments)-1]
}

// CurrentOffset returns the partition-wide current_offset and
// should_increment_offset flag, spec.md §3. A roll-over leaves the new
// active segment empty, so this walks backward from the active segment
// until it finds the most recent one that has ever held a message, rather
// than reading the active segment alone (which would wrongly report
// should_increment_offset=false for a brief window right after roll-over).
func (st *Store) CurrentOffset() (uint64, bool) {
	for i := len(st.segments) - 1; i >= 0; i-- {
		if cur, has := st.segments[i].CurrentOffset(); has {
			return cur, true
		}
	}
	return 0, false
}

// Append writes messages to the active segment and rolls over afterward if
// any threshold in Limits was crossed. Returns enginerr.ErrInvalidPartitionState
// if the store holds no segments.
func (st *Store) Append(messages []Message) (firstOffset uint64, err error) {
	active := st.Active()
	if active == nil {
		return 0, enginerr.ErrInvalidPartitionState
	}

	firstOffset, err = active.Append(messages)
	if err != nil {
		return 0, err
	}

	if active.ShouldRollOver(st.limits) {
		if err := st.rollOver(active); err != nil {
			return firstOffset, err
		}
	}
	return firstOffset, nil
}

func (st *Store) rollOver(active *Segment) error {
	active.Close()
	next, err := New(st.dir, active.EndOffset()+1, st.counters, st.persister, st.logger)
	if err != nil {
		return err
	}
	st.segments = append(st.segments, next)
	if st.counters != nil {
		st.counters.IncSegments()
	}
	level.Info(st.logger).Log("msg", "segment rolled over", "closed_start_offset", active.StartOffset, "new_start_offset", next.StartOffset)
	metrics.SegmentRollovers.Inc()
	return nil
}

// Read resolves the segment covering startOffset (binary search on segment
// start offsets) and streams messages, crossing segment boundaries as needed
// until count messages are returned, maxBytes is reached, or the log is
// exhausted. It is the mechanism behind Coordinator.PollMessages.
func (st *Store) Read(startOffset uint64, count int, maxBytes uint64) ([]Record, uint64, error) {
	if len(st.segments) == 0 || count <= 0 {
		return nil, startOffset, nil
	}
	if maxBytes == 0 {
		maxBytes = math.MaxUint64
	}

	idx := sort.Search(len(st.segments), func(i int) bool {
		return st.segments[i].StartOffset > startOffset
	}) - 1
	if idx < 0 {
		idx = 0
	}

	var (
		out       []Record
		next      = startOffset
		bytesUsed uint64
		segIdx    = idx
	)
	for segIdx < len(st.segments) && len(out) < count && bytesUsed < maxBytes {
		seg := st.segments[segIdx]
		recs, segNext, err := seg.Read(next, maxBytes-bytesUsed)
		if err != nil {
			return nil, startOffset, err
		}

		take := recs
		if len(out)+len(take) > count {
			take = take[:count-len(out)]
		}
		for _, r := range take {
			bytesUsed += uint64(len(r.Payload)) + messageHeaderSize
		}
		out = append(out, take...)

		if len(take) > 0 {
			next = take[len(take)-1].Offset + 1
		} else {
			// This segment had nothing to offer at next (e.g. next is past
			// its last message, or it is the empty active segment right
			// after roll-over). segNext is the segment's own unchanged
			// echo of next in that case, not a synthetic EndOffset()+1 that
			// would silently rewind a poll request to a lower offset.
			next = segNext
		}
		segIdx++
	}
	return out, next, nil
}

// TotalSize sums the on-disk log size of every segment, which must equal
// the partition's size_bytes rollup (spec.md §3 invariant, §8 property).
func (st *Store) TotalSize() uint64 {
	var total uint64
	for _, s := range st.segments {
		total += s.Size
	}
	return total
}

// PurgeExpired deletes every closed segment whose newest message is older
// than expiry relative to now, spec.md §3 ("A closed segment may be deleted
// when every byte within it is past message_expiry measured from its newest
// message"). The active segment is never eligible.
func (st *Store) PurgeExpired(now time.Time, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	kept := st.segments[:0]
	for _, s := range st.segments {
		if s.IsActive || now.Sub(s.LastAppendAt) < expiry {
			kept = append(kept, s)
			continue
		}
		if err := s.Delete(); err != nil {
			return err
		}
	}
	st.segments = kept
	return nil
}

// DeleteAll removes every segment file, used by Partition.Purge.
func (st *Store) DeleteAll() error {
	for _, s := range st.segments {
		s.Close()
		if err := s.Delete(); err != nil {
			return err
		}
	}
	st.segments = nil
	return nil
}
