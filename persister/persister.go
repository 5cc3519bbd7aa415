// Package persister implements the low-level file-write primitive the rest of
// the engine builds on (spec.md §4.1). The sync/async variant is chosen once
// per process and is immutable for the process lifetime, the same contract
// friggdb's PersisterKind (FileWithSyncPersister) embodies for its append path.
package persister

import (
	"os"

	"github.com/grafana/logstream/enginerr"
)

// Persister writes bytes to a path, optionally fsyncing before returning.
type Persister interface {
	// Write appends b to path, creating it if it does not exist, and returns the
	// number of bytes written. A successful sync Persister guarantees the bytes
	// are readable at path after a crash and restart.
	Write(path string, b []byte) (int, error)
	// WriteAt truncates the file (creating it if needed) and then writes b at the
	// given absolute offset, so nothing of the old content remains. Used by the consumer offset store
	// for fixed-width, truncate-on-write 8-byte files.
	WriteAt(path string, b []byte, offset int64) (int, error)
	// Sync returns whether this Persister fsyncs on every write.
	Sync() bool
}

type syncPersister struct{}

// NewSyncPersister returns a Persister that fsyncs after every write, so a
// successful Write guarantees durability before it returns.
func NewSyncPersister() Persister {
	return &syncPersister{}
}

func (syncPersister) Sync() bool { return true }

func (syncPersister) Write(path string, b []byte) (int, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, enginerr.NewIOError(path, err)
	}
	defer f.Close()

	n, err := f.Write(b)
	if err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	if err := f.Sync(); err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	return n, nil
}

func (syncPersister) WriteAt(path string, b []byte, offset int64) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, enginerr.NewIOError(path, err)
	}
	defer f.Close()

	n, err := f.WriteAt(b, offset)
	if err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	if err := f.Sync(); err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	return n, nil
}

type asyncPersister struct{}

// NewAsyncPersister returns a Persister that writes to the OS page cache and
// elides fsync; acknowledgement is faster but a crash may lose unflushed bytes.
func NewAsyncPersister() Persister {
	return &asyncPersister{}
}

func (asyncPersister) Sync() bool { return false }

func (asyncPersister) Write(path string, b []byte) (int, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, enginerr.NewIOError(path, err)
	}
	defer f.Close()

	n, err := f.Write(b)
	if err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	return n, nil
}

func (asyncPersister) WriteAt(path string, b []byte, offset int64) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, enginerr.NewIOError(path, err)
	}
	defer f.Close()

	n, err := f.WriteAt(b, offset)
	if err != nil {
		return n, enginerr.NewIOError(path, err)
	}
	return n, nil
}
