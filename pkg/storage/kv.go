// ABOUTME: Durable ordered KV store backed by BadgerDB
// ABOUTME: Exposes Get/Set/Del/Scan plus Begin/Commit/Abort transactions over byte keys

package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// KV represents a persistent key-value store.
// Path is a directory; InMemory ignores it.
type KV struct {
	Path       string
	InMemory   bool
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *zerolog.Logger

	db *badger.DB
}

// Open opens or creates the database
func (db *KV) Open() error {
	var opts badger.Options
	if db.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if db.Path == "" {
			return errors.New("storage: path is required for persistent database")
		}
		if err := os.MkdirAll(db.Path, 0750); err != nil {
			return fmt.Errorf("create database directory %s: %w", db.Path, err)
		}
		opts = badger.DefaultOptions(db.Path)
	}

	opts = opts.WithSyncWrites(db.SyncWrites).WithNumVersionsToKeep(1)
	if db.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{zlog: db.Logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	db.db = bdb
	return nil
}

// Close closes the database
func (db *KV) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// Get retrieves a value by key
func (db *KV) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := db.db.View(func(txn *badger.Txn) error {
		var err error
		val, err = getFromTxn(txn, key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set inserts or updates a key-value pair
func (db *KV) Set(key []byte, val []byte) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// Del deletes a key, reporting whether it existed
func (db *KV) Del(key []byte) (bool, error) {
	existed := false
	err := db.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	return existed, err
}

// Scan performs a range scan starting from the given key.
// The callback returns false to stop.
func (db *KV) Scan(start []byte, callback func(key, val []byte) bool) error {
	return db.db.View(func(txn *badger.Txn) error {
		return scanTxn(txn, start, nil, callback)
	})
}

// ScanPrefix visits every key starting with prefix, in key order
func (db *KV) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) error {
	return db.db.View(func(txn *badger.Txn) error {
		return scanTxn(txn, prefix, prefix, callback)
	})
}

// RunGC triggers value log garbage collection once.
// Returns nil when there was nothing to rewrite.
func (db *KV) RunGC(discardRatio float64) error {
	if db.InMemory {
		return nil
	}
	err := db.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func getFromTxn(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func scanTxn(txn *badger.Txn, start, prefix []byte, callback func(key, val []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.Valid(); it.Next() {
		if prefix != nil && !it.ValidForPrefix(prefix) {
			break
		}
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !callback(item.KeyCopy(nil), val) {
			break
		}
	}
	return nil
}

// badgerLogger adapts zerolog to badger's Logger interface
type badgerLogger struct {
	zlog zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}
