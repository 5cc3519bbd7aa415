// Package segment implements the Segment Store, spec.md §4.2: append-only log
// files divided into size/count/time-bounded segments, each a trio of
// log+index+time-index files. It is grounded on grafana-tempo's friggdb WAL
// (friggdb/wal/head_block.go's append-then-index discipline and
// friggdb/backend/finder.go's binary search over a sorted in-memory index),
// adapted from friggdb's block-of-traces model to a flat, offset-addressed log.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/logstream/enginerr"
	"github.com/grafana/logstream/persister"
	"github.com/grafana/logstream/rollup"
)

// Message is one payload to be appended, with the wall-clock time it was
// accepted by the coordinator (used for the time-index and for message_expiry).
type Message struct {
	Payload   []byte
	Timestamp time.Time
}

// Record is a decoded message returned from Read, annotated with its assigned offset.
type Record struct {
	Offset    uint64
	Payload   []byte
	Timestamp time.Time
}

// Segment is one size/time-bounded slice of a partition's log, spec.md §3/§4.2.
type Segment struct {
	StartOffset uint64

	hasMessages  bool
	currentOffset uint64

	Size          uint64
	MessagesCount uint64
	IsActive      bool
	CreatedAt     time.Time
	LastAppendAt  time.Time

	LogPath       string
	IndexPath     string
	TimeIndexPath string

	index     []indexEntry
	timeIndex []timeIndexEntry

	counters  *rollup.Counters
	persister persister.Persister
	logger    log.Logger
}

// New creates a brand-new active segment starting at startOffset. The three
// files are created empty; the segment has no messages until the first
// successful Append (the should_increment_offset sentinel from spec.md §3,
// scoped to a single segment here).
func New(dir string, startOffset uint64, counters *rollup.Counters, p persister.Persister, logger log.Logger) (*Segment, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Segment{
		StartOffset:   startOffset,
		IsActive:      true,
		CreatedAt:     time.Now(),
		LogPath:       logPath(dir, startOffset),
		IndexPath:     indexPath(dir, startOffset),
		TimeIndexPath: timeIndexPath(dir, startOffset),
		counters:      counters,
		persister:     p,
		logger:        logger,
	}
	for _, path := range []string{s.LogPath, s.IndexPath, s.TimeIndexPath} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, enginerr.NewIOError(path, err)
		}
		f.Close()
	}
	return s, nil
}

func logPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", startOffset))
}

func indexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", startOffset))
}

func timeIndexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.timeindex", startOffset))
}

// CurrentOffset returns the offset of the most recently appended message and
// whether the segment has ever had a message appended.
func (s *Segment) CurrentOffset() (uint64, bool) {
	return s.currentOffset, s.hasMessages
}

// EndOffset returns the fixed end offset of a closed segment. Calling it on an
// active segment with no messages is a programmer error in this engine and
// returns StartOffset-wrapping is avoided by callers checking IsActive/hasMessages first.
func (s *Segment) EndOffset() uint64 {
	return s.currentOffset
}

type appendSnapshot struct {
	size          uint64
	messagesCount uint64
	currentOffset uint64
	hasMessages   bool
	lastAppendAt  time.Time
	indexLen      int
	timeIndexLen  int
}

func (s *Segment) snapshot() appendSnapshot {
	return appendSnapshot{
		size:          s.Size,
		messagesCount: s.MessagesCount,
		currentOffset: s.currentOffset,
		hasMessages:   s.hasMessages,
		lastAppendAt:  s.LastAppendAt,
		indexLen:      len(s.index),
		timeIndexLen:  len(s.timeIndex),
	}
}

// rollback reverts in-memory state to snap and truncates all three files
// back to the byte lengths that state implies. The log is opened O_APPEND,
// so a write that landed on disk before a later write in the same batch
// failed leaves stray unindexed bytes at its tail; without truncating the
// file too, the next successful Append would physically land after those
// stray bytes while recording the pre-failure (now stale) position in its
// index entry, corrupting every offset read back from this segment until a
// restart's recovery pass truncated the tail.
func (s *Segment) rollback(snap appendSnapshot) {
	s.Size = snap.size
	s.MessagesCount = snap.messagesCount
	s.currentOffset = snap.currentOffset
	s.hasMessages = snap.hasMessages
	s.LastAppendAt = snap.lastAppendAt
	s.index = s.index[:snap.indexLen]
	s.timeIndex = s.timeIndex[:snap.timeIndexLen]

	if err := os.Truncate(s.LogPath, int64(snap.size)); err != nil && !os.IsNotExist(err) {
		level.Warn(s.logger).Log("msg", "failed to truncate log after append rollback", "path", s.LogPath, "err", err)
	}
	if err := os.Truncate(s.IndexPath, int64(snap.indexLen*indexEntrySize)); err != nil && !os.IsNotExist(err) {
		level.Warn(s.logger).Log("msg", "failed to truncate index after append rollback", "path", s.IndexPath, "err", err)
	}
	if err := os.Truncate(s.TimeIndexPath, int64(snap.timeIndexLen*timeIndexEntrySize)); err != nil && !os.IsNotExist(err) {
		level.Warn(s.logger).Log("msg", "failed to truncate time-index after append rollback", "path", s.TimeIndexPath, "err", err)
	}
}

// Append assigns each message the next offset, writes it to the log, index
// and time-index, and updates size/count/rollup state. It is only valid on
// the active segment. On Persister failure the segment is rolled back to its
// pre-append snapshot (spec.md §4.2): in-memory state is reverted and the
// log, index and time-index files are truncated back to match it (see
// rollback). A truncation that itself fails is only logged; Load reconciles
// any remaining torn tail at the next start.
func (s *Segment) Append(messages []Message) (firstOffset uint64, err error) {
	if !s.IsActive {
		return 0, fmt.Errorf("segment %s is not active", s.LogPath)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	snap := s.snapshot()
	first := s.nextOffset()
	firstOffset = first

	for _, m := range messages {
		offset := s.nextOffset()
		encoded := encodeMessage(m.Payload)

		if _, err := s.persister.Write(s.LogPath, encoded); err != nil {
			s.rollback(snap)
			return 0, err
		}

		relative := uint32(offset - s.StartOffset)
		ie := indexEntry{relativeOffset: relative, position: uint32(s.Size), size: uint32(len(encoded))}
		if _, err := s.persister.Write(s.IndexPath, encodeIndexEntry(ie)); err != nil {
			s.rollback(snap)
			return 0, err
		}

		tie := timeIndexEntry{relativeOffset: relative, timestampNs: uint64(m.Timestamp.UnixNano())}
		if _, err := s.persister.Write(s.TimeIndexPath, encodeTimeIndexEntry(tie)); err != nil {
			s.rollback(snap)
			return 0, err
		}

		s.index = append(s.index, ie)
		s.timeIndex = append(s.timeIndex, tie)
		s.Size += uint64(len(encoded))
		s.MessagesCount++
		s.currentOffset = offset
		s.hasMessages = true
		s.LastAppendAt = m.Timestamp
	}

	if s.counters != nil {
		s.counters.AddMessages(uint64(len(messages)))
		s.counters.AddBytes(s.Size - snap.size)
	}

	return first, nil
}

func (s *Segment) nextOffset() uint64 {
	if !s.hasMessages {
		return s.StartOffset
	}
	return s.currentOffset + 1
}

// Read binary-searches the index for startOffset and streams sequential log
// bytes up to maxBytes, stopping at a message boundary. It returns the empty
// result, not an error, when startOffset falls outside this segment's range
// (spec.md §4.2; the caller routes to a different segment).
func (s *Segment) Read(startOffset uint64, maxBytes uint64) ([]Record, uint64, error) {
	if !s.hasMessages || startOffset < s.StartOffset || startOffset > s.currentOffset {
		return nil, startOffset, nil
	}

	relativeStart := uint32(startOffset - s.StartOffset)
	i := sort.Search(len(s.index), func(idx int) bool {
		return s.index[idx].relativeOffset >= relativeStart
	})
	if i >= len(s.index) {
		return nil, startOffset, nil
	}

	f, err := os.Open(s.LogPath)
	if err != nil {
		return nil, startOffset, enginerr.NewIOError(s.LogPath, err)
	}
	defer f.Close()

	var (
		records   []Record
		bytesRead uint64
		next      = startOffset
	)
	for _, ie := range s.index[i:] {
		if bytesRead+uint64(ie.size) > maxBytes && len(records) > 0 {
			break
		}
		buf := make([]byte, ie.size)
		if _, err := f.ReadAt(buf, int64(ie.position)); err != nil {
			return nil, startOffset, enginerr.NewIOError(s.LogPath, err)
		}
		payload, _, ok := decodeMessage(buf)
		if !ok {
			return nil, startOffset, &enginerr.CorruptSegmentError{Path: s.LogPath, Reason: "truncated message record"}
		}
		offset := s.StartOffset + uint64(ie.relativeOffset)
		records = append(records, Record{Offset: offset, Payload: payload, Timestamp: s.timestampFor(ie.relativeOffset)})
		bytesRead += uint64(ie.size)
		next = offset + 1
		if bytesRead >= maxBytes {
			break
		}
	}

	return records, next, nil
}

func (s *Segment) timestampFor(relativeOffset uint32) time.Time {
	i := sort.Search(len(s.timeIndex), func(idx int) bool {
		return s.timeIndex[idx].relativeOffset >= relativeOffset
	})
	if i < len(s.timeIndex) && s.timeIndex[i].relativeOffset == relativeOffset {
		return time.Unix(0, int64(s.timeIndex[i].timestampNs))
	}
	return time.Time{}
}

// Close marks the segment read-only. It is idempotent; no on-disk rewrite is
// required because recovery always reconstructs end_offset/size/count by
// scanning the log+index directly (see the Close() note in DESIGN.md)
// rather than trusting a cached header.
func (s *Segment) Close() {
	if !s.IsActive {
		return
	}
	s.IsActive = false
	level.Debug(s.logger).Log("msg", "segment closed", "path", s.LogPath, "messages", s.MessagesCount, "size", s.Size)
}

// Delete removes all three files backing this segment. It is only valid on a
// closed segment.
func (s *Segment) Delete() error {
	if s.IsActive {
		return fmt.Errorf("cannot delete active segment %s", s.LogPath)
	}
	for _, path := range []string{s.LogPath, s.IndexPath, s.TimeIndexPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return enginerr.NewIOError(path, err)
		}
	}
	if s.counters != nil {
		s.counters.SubBytes(s.Size)
		s.counters.SubMessages(s.MessagesCount)
		s.counters.DecSegments()
	}
	return nil
}

// Limits bounds when a segment rolls over to a fresh one, spec.md §4.2.
type Limits struct {
	SegmentSize         uint64
	SegmentMessageCount uint64
	SegmentTime         time.Duration
}

// ShouldRollOver reports whether this (necessarily active) segment has crossed
// any of the three roll-over thresholds.
func (s *Segment) ShouldRollOver(limits Limits) bool {
	if limits.SegmentSize > 0 && s.Size >= limits.SegmentSize {
		return true
	}
	if limits.SegmentMessageCount > 0 && s.MessagesCount >= limits.SegmentMessageCount {
		return true
	}
	if limits.SegmentTime > 0 && time.Since(s.CreatedAt) >= limits.SegmentTime {
		return true
	}
	return false
}
