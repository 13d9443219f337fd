package storage

import (
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

// Badger implements Engine on top of dgraph-io/badger. All of monogit's
// durable state (objects, refs, reflog, CLs, reviewers, and Scorpio's
// per-mount local index) is a Badger instance with distinct key prefixes.
type Badger struct {
	*badgerTx
	lck    *sync.Mutex
	db     *badger.DB
	closed bool
}

// NewBadger creates an uninitialized Badger engine; call Init to open it.
func NewBadger() *Badger {
	return &Badger{lck: &sync.Mutex{}}
}

// Init opens the database. An empty dir opens an in-memory instance, useful
// for tests and for temp-mount overlays that never persist across restarts.
func (b *Badger) Init(dir string) error {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithTruncate(true)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &noopBadgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}

	b.db = db
	b.badgerTx = NewTx(db, true, true)
	return nil
}

// GetDB returns the underlying badger database.
func (b *Badger) GetDB() *badger.DB {
	return b.db
}

// NewTx creates a transaction against this engine's database.
func (b *Badger) NewTx(autoFinish, renew bool) Tx {
	return NewTx(b.db, autoFinish, renew)
}

// Closed reports whether Close has been called.
func (b *Badger) Closed() bool {
	b.lck.Lock()
	defer b.lck.Unlock()
	return b.closed
}

// Close closes the engine and releases its resources.
func (b *Badger) Close() error {
	b.lck.Lock()
	defer b.lck.Unlock()
	if b.db != nil && !b.closed {
		b.closed = true
		return b.db.Close()
	}
	return nil
}
