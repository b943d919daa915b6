// ABOUTME: Transaction support for atomic multi-key operations
// ABOUTME: Wraps a badger read-write txn behind Begin/Commit/Abort

package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// KVTX represents a key-value transaction.
// The first failed write is remembered and returned by Commit.
type KVTX struct {
	txn *badger.Txn
	err error
}

// Begin starts a new read-write transaction
func (db *KV) Begin() *KVTX {
	return &KVTX{txn: db.db.NewTransaction(true)}
}

// Commit commits the transaction atomically
func (tx *KVTX) Commit() error {
	if tx.err != nil {
		tx.txn.Discard()
		return tx.err
	}
	return tx.txn.Commit()
}

// Abort rolls back the transaction
func (tx *KVTX) Abort() {
	tx.txn.Discard()
}

// Get retrieves a value within the transaction, seeing its own writes
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	val, err := getFromTxn(tx.txn, key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		tx.fail(err)
		return nil, false
	}
	return val, true
}

// Set inserts or updates a key-value pair within the transaction
func (tx *KVTX) Set(key []byte, val []byte) {
	tx.fail(tx.txn.Set(key, val))
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) {
	tx.fail(tx.txn.Delete(key))
}

// ScanPrefix performs a prefix scan within the transaction
func (tx *KVTX) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) {
	tx.fail(scanTxn(tx.txn, prefix, prefix, callback))
}

// Err reports the first write failure so far
func (tx *KVTX) Err() error {
	return tx.err
}

func (tx *KVTX) fail(err error) {
	if err != nil && tx.err == nil {
		tx.err = err
	}
}
