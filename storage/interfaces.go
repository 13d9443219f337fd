package storage

import "fmt"

// ErrRecordNotFound indicates a record was not found.
var ErrRecordNotFound = fmt.Errorf("record not found")

// Operations describes the read/write operations a storage engine or
// transaction supports.
type Operations interface {
	// Put adds a record. The transaction is discarded on error.
	Put(record *Record) error

	// Get fetches a record by its on-disk key.
	Get(key []byte) (*Record, error)

	// Del deletes a record by key.
	Del(key []byte) error

	// Iterate walks records under prefix, calling iterFunc for each one.
	// Returning true from iterFunc stops iteration early. When first is
	// false, iteration starts from the last matching key instead.
	Iterate(prefix []byte, first bool, iterFunc func(rec *Record) bool)

	// NewTx creates a transaction. autoFinish commits after every
	// successful operation; renew re-opens the transaction afterward
	// (requires autoFinish).
	NewTx(autoFinish, renew bool) Tx
}

// TxCommitDiscarder commits or discards a transaction explicitly.
type TxCommitDiscarder interface {
	CanFinish() bool
	Commit() error
	Discard()
}

// TxRenewer forcefully re-opens the underlying transaction.
type TxRenewer interface {
	RenewTx()
}

// Tx is a storage transaction.
type Tx interface {
	TxCommitDiscarder
	TxRenewer
	Operations
}

// Engine is a storage engine: an Operations implementation with a
// lifecycle (Init/Close).
type Engine interface {
	Operations
	Init(dir string) error
	Close() error
}
