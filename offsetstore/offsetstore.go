// Package offsetstore implements the Consumer Offset Store, spec.md §4.3:
// one 8-byte little-endian offset file per (kind, consumer_id), backed by a
// shard-partitioned concurrent map keyed by consumer_id (spec.md §9 design
// note), the Go analog of the original engine's DashMap<u32, ConsumerOffset>.
package offsetstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/logstream/enginerr"
	"github.com/grafana/logstream/persister"
)

// Kind distinguishes a plain consumer's offset from a consumer group's.
type Kind int

const (
	Consumer Kind = iota
	ConsumerGroup
)

func (k Kind) String() string {
	if k == ConsumerGroup {
		return "consumer_group"
	}
	return "consumer"
}

// Offset is one persisted consumer position, spec.md §3: "Four fields: kind,
// consumer_id, offset, path." Equality is defined over all four.
type Offset struct {
	Kind       Kind
	ConsumerID uint32
	Value      uint64
	Path       string
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	offsets map[uint32]Offset
}

// Store is the sharded, concurrently-mutable map of one kind's consumer
// offsets for a single partition, plus the file persistence behind it.
type Store struct {
	kind      Kind
	basePath  string
	persister persister.Persister
	logger    log.Logger

	shards [shardCount]*shard
}

// New constructs an empty store rooted at basePath (the partition's
// consumer_offsets or consumer_group_offsets directory). Call Load to
// repopulate it from disk.
func New(kind Kind, basePath string, p persister.Persister, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	st := &Store{kind: kind, basePath: basePath, persister: p, logger: logger}
	for i := range st.shards {
		st.shards[i] = &shard{offsets: make(map[uint32]Offset)}
	}
	return st
}

func (st *Store) shardFor(consumerID uint32) *shard {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], consumerID)
	h := xxhash.Sum64(b[:])
	return st.shards[h%uint64(shardCount)]
}

// pathFor reproduces the original engine's literal "{base}/{consumer_id}"
// construction rather than filepath.Join, so the string is byte-identical to
// what that implementation would have written (SPEC_FULL.md §12.2).
func (st *Store) pathFor(consumerID uint32) string {
	return st.basePath + "/" + strconv.FormatUint(uint64(consumerID), 10)
}

// Get returns the in-memory offset for consumerID, if any.
func (st *Store) Get(consumerID uint32) (Offset, bool) {
	sh := st.shardFor(consumerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	off, ok := sh.offsets[consumerID]
	return off, ok
}

// Save writes value as an 8-byte little-endian integer to path, truncating,
// honoring the Persister's sync discipline, then upserts the in-memory entry
// (spec.md §4.3 save).
func (st *Store) Save(consumerID uint32, value uint64) error {
	path := st.pathFor(consumerID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return enginerr.NewIOError(path, err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	if _, err := st.persister.WriteAt(path, buf[:], 0); err != nil {
		return err
	}

	sh := st.shardFor(consumerID)
	sh.mu.Lock()
	sh.offsets[consumerID] = Offset{Kind: st.kind, ConsumerID: consumerID, Value: value, Path: path}
	sh.mu.Unlock()
	return nil
}

// Remove deletes the consumer's offset file and its in-memory entry
// (SPEC_FULL.md §12.5, supplementing spec.md §3's "until the consumer is
// explicitly removed").
func (st *Store) Remove(consumerID uint32) error {
	sh := st.shardFor(consumerID)
	sh.mu.Lock()
	delete(sh.offsets, consumerID)
	sh.mu.Unlock()

	path := st.pathFor(consumerID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return enginerr.NewIOError(path, err)
	}
	return nil
}

// All returns every in-memory entry ordered by consumer_id ascending.
func (st *Store) All() []Offset {
	var out []Offset
	for _, sh := range st.shards {
		sh.mu.RLock()
		for _, off := range sh.offsets {
			out = append(out, off)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumerID < out[j].ConsumerID })
	return out
}

// Load enumerates every file under basePath, parses the consumer_id from
// each filename, decodes its 8-byte offset, and repopulates the in-memory
// map (spec.md §4.3 load_all). Non-numeric filenames are skipped; files
// whose size is not exactly 8 bytes are treated as corrupt and skipped with
// a warning rather than failing the whole load.
func (st *Store) Load() error {
	entries, err := os.ReadDir(st.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return enginerr.NewIOError(st.basePath, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		consumerID, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		path := st.pathFor(uint32(consumerID))
		b, err := os.ReadFile(path)
		if err != nil {
			return enginerr.NewIOError(path, err)
		}
		if len(b) != 8 {
			level.Warn(st.logger).Log("msg", "skipping corrupt consumer offset file", "path", path, "size", len(b))
			continue
		}
		value := binary.LittleEndian.Uint64(b)

		sh := st.shardFor(uint32(consumerID))
		sh.mu.Lock()
		sh.offsets[uint32(consumerID)] = Offset{Kind: st.kind, ConsumerID: uint32(consumerID), Value: value, Path: path}
		sh.mu.Unlock()
	}
	return nil
}

// DeleteAll wipes the offset directory and clears every in-memory entry,
// used by Partition.Purge.
func (st *Store) DeleteAll() error {
	for i := range st.shards {
		st.shards[i].mu.Lock()
		st.shards[i].offsets = make(map[uint32]Offset)
		st.shards[i].mu.Unlock()
	}
	if err := os.RemoveAll(st.basePath); err != nil {
		return enginerr.NewIOError(st.basePath, err)
	}
	return nil
}
