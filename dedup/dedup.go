// Package dedup implements the Deduplicator, spec.md §4.4: a bounded
// time-and-capacity LRU+TTL set of 128-bit producer-supplied message ids.
// It is grounded on original_source's message_deduplicator.rs, which wraps
// moka::future::Cache; github.com/maypok86/otter/v2 is explicitly modeled on
// moka's (and Caffeine's) design and is this engine's direct Go analog.
package dedup

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// ID is a 128-bit message identifier, the unit the original Rust engine keys
// its cache on (u128).
type ID [16]byte

// Deduplicator is safe for concurrent use. A nil *Deduplicator is valid and
// behaves as "disabled" (spec.md §3: message_deduplicator is optional,
// present iff configured) — Exists always reports false and TryInsert always
// reports true, so call sites don't need to branch on whether dedup is on.
type Deduplicator struct {
	cache *otter.Cache[ID, struct{}]
}

// New builds a Deduplicator bounded by maxEntries (0 means unlimited) and
// expiry (0 means no TTL), spec.md §4.4.
func New(maxEntries uint64, expiry time.Duration) *Deduplicator {
	opts := &otter.Options[ID, struct{}]{}
	if maxEntries > 0 {
		opts.MaximumSize = int(maxEntries)
	}
	if expiry > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[ID, struct{}](expiry)
	}
	return &Deduplicator{cache: otter.Must(opts)}
}

// Exists reports whether id is currently tracked.
func (d *Deduplicator) Exists(id ID) bool {
	if d == nil {
		return false
	}
	_, ok := d.cache.GetIfPresent(id)
	return ok
}

// Insert unconditionally records id as seen, evicting by LRU if at capacity.
func (d *Deduplicator) Insert(id ID) {
	if d == nil {
		return
	}
	d.cache.Set(id, struct{}{})
}

// TryInsert records id and reports true iff it was not already present.
// Implemented as a single Compute call rather than exists-then-insert so the
// check-and-set is logically atomic under concurrent callers (spec.md §4.4:
// "under concurrent try_insert of the same id by two callers, at most one
// returns true" — the core correctness property).
func (d *Deduplicator) TryInsert(id ID) bool {
	if d == nil {
		return true
	}
	inserted := false
	d.cache.Compute(id, func(_ struct{}, found bool) (struct{}, otter.ComputeOp) {
		if found {
			return struct{}{}, otter.CancelOp
		}
		inserted = true
		return struct{}{}, otter.WriteOp
	})
	return inserted
}
