package storage

import (
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

// Tx implements Tx on top of a badger transaction.
type badgerTx struct {
	sync.RWMutex

	db     *badger.DB
	tx     *badger.Txn
	finish bool
	renew  bool
}

// NewTx returns a new Tx bound to db.
func NewTx(db *badger.DB, finish, renew bool) *badgerTx {
	return &badgerTx{db: db, tx: db.NewTransaction(true), finish: finish, renew: renew}
}

// GetTx returns the underlying badger transaction.
func (t *badgerTx) GetTx() *badger.Txn {
	t.Lock()
	defer t.Unlock()
	return t.tx
}

// NewTx creates a new, independent transaction against the same database.
func (t *badgerTx) NewTx(autoFinish, renew bool) Tx {
	return NewTx(t.db, autoFinish, renew)
}

// CanFinish reports whether the transaction auto-commits after each op.
func (t *badgerTx) CanFinish() bool {
	t.RLock()
	defer t.RUnlock()
	return t.finish
}

func (t *badgerTx) commit() error {
	defer t.renewTx()
	t.RLock()
	finished := t.finish
	t.RUnlock()
	if finished {
		return t.Commit()
	}
	return nil
}

// Commit commits the transaction.
func (t *badgerTx) Commit() error {
	t.Lock()
	defer t.Unlock()
	return t.tx.Commit()
}

func (t *badgerTx) renewTx() {
	t.Lock()
	defer t.Unlock()
	if t.finish && t.renew {
		t.tx = t.db.NewTransaction(true)
	}
}

// Discard aborts the transaction, rolling back any unwritten changes.
func (t *badgerTx) Discard() {
	t.Lock()
	defer t.Unlock()
	t.tx.Discard()
}

// RenewTx forcefully replaces the underlying transaction.
func (t *badgerTx) RenewTx() {
	t.Lock()
	defer t.Unlock()
	t.tx = t.db.NewTransaction(true)
}

// Put writes a record, discarding the transaction on failure.
func (t *badgerTx) Put(record *Record) error {
	t.renewTx()
	t.Lock()
	err := t.tx.Set(record.GetKey(), record.Value)
	if err != nil {
		t.Unlock()
		t.Discard()
		return err
	}
	t.Unlock()
	return t.commit()
}

// Get reads a record by key.
func (t *badgerTx) Get(key []byte) (*Record, error) {
	t.renewTx()
	t.Lock()
	defer t.Unlock()

	item, err := t.tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	val := make([]byte, item.ValueSize())
	if val, err = item.ValueCopy(val); err != nil {
		return nil, errors.Wrap(err, "failed to read value")
	}

	return NewFromKeyValue(key, val), nil
}

// Del removes a record by key.
func (t *badgerTx) Del(key []byte) error {
	t.renewTx()
	defer t.commit()

	t.Lock()
	defer t.Unlock()
	return t.tx.Delete(key)
}

// Iterate walks records under prefix. See Operations.Iterate.
func (t *badgerTx) Iterate(prefix []byte, first bool, iterFunc func(rec *Record) bool) {
	t.renewTx()
	opts := badger.DefaultIteratorOptions
	opts.Reverse = !first
	opts.PrefetchSize = 1000

	t.Lock()
	it := t.tx.NewIterator(opts)
	t.Unlock()
	defer it.Close()

	prefixKey := append([]byte{}, prefix...)
	if opts.Reverse {
		prefixKey = append(prefixKey, 0xFF)
	}

	for it.Seek(prefixKey); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.Key()
		v, _ := item.ValueCopy(nil)
		if iterFunc(NewFromKeyValue(k, v)) {
			return
		}
	}
}
