package pristine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Options configures a Store, mirroring the shape of storage.BadgerOptions:
// a required data directory, an in-memory escape hatch for tests, and a
// durability/performance knob.
type Options struct {
	// DataDir is the directory BadgerDB stores its files under. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs the store entirely in RAM, for tests. Nothing is
	// persisted; Close discards all state.
	InMemory bool

	// SyncWrites forces an fsync on every commit. Slower, but matches
	// §4.2's crash model guarantee that a committed write transaction is
	// never lost.
	SyncWrites bool

	// LowMemory trims BadgerDB's in-process memory budget (fewer, smaller
	// memtables and no block cache) for deployments where the repository
	// runs alongside other memory-hungry processes, at the cost of more
	// frequent compaction.
	LowMemory bool

	// Logger receives BadgerDB's internal log output. Nil silences it, the
	// same default storage.NewBadgerEngineWithOptions uses.
	Logger badger.Logger
}

// Store is one repository's pristine database: the single memory-mapped
// file described in spec.md §3, backed here by a BadgerDB instance. All
// tables in §3 live in the one underlying engine, distinguished by the key
// prefixes in schema.go rather than by separate files.
type Store struct {
	db *badger.DB

	channelLocksMu sync.Mutex
	channelLocks   map[string]*sync.RWMutex
}

// Open opens or creates the pristine database at the given options.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	if opts.SyncWrites {
		bopts = bopts.WithSyncWrites(true)
	}
	if opts.LowMemory {
		bopts = bopts.WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithBlockCacheSize(0).
			WithIndexCacheSize(0)
	}
	bopts = bopts.WithLogger(opts.Logger)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIo, err)
	}
	return &Store{db: db, channelLocks: make(map[string]*sync.RWMutex)}, nil
}

// OpenInMemory is a convenience wrapper for tests, equivalent to
// Open(Options{InMemory: true}).
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Close releases the underlying engine. It does not wait for in-flight
// transactions; callers must ensure all View/Update calls have returned
// first.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
	return nil
}

// View runs fn against a read-only snapshot pinned at the moment View is
// called — spec.md §4.2/§5's read transaction: many concurrent, isolated
// from any writer that commits after the snapshot is taken.
func (s *Store) View(fn func(*ReadTxn) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&ReadTxn{txn: txn})
	})
}

// Update runs fn inside the single mutable write transaction Badger
// admits at a time (§4.2/§5's writer-seat exclusivity). fn's mutations
// become visible to all other transactions atomically on return if fn
// returns nil; any error aborts the whole transaction and leaves no
// partial state.
func (s *Store) Update(fn func(*WriteTxn) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&WriteTxn{ReadTxn: ReadTxn{txn: txn}, wtxn: txn})
	})
	if err != nil {
		return err
	}
	return nil
}

// LockChannels acquires exclusive interior locks on the named channel
// handles, always in sorted order, so that two write transactions
// touching overlapping channel sets can never deadlock against each other
// (§5's locking-discipline summary). The returned func releases them all.
// This lock is orthogonal to the Store's single-writer Update seat: it
// exists to serialize concurrent in-process callers reasoning about the
// same channel's handle state (e.g. a long-running apply_node_rec) even
// though Badger itself already serializes the underlying writes.
func (s *Store) LockChannels(names ...string) func() {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	s.channelLocksMu.Lock()
	locks := make([]*sync.RWMutex, len(sorted))
	for i, name := range sorted {
		l, ok := s.channelLocks[name]
		if !ok {
			l = &sync.RWMutex{}
			s.channelLocks[name] = l
		}
		locks[i] = l
	}
	s.channelLocksMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}
