package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps session values in an embedded BadgerDB, one entry per
// (session, key) pair. Entries carry their own TTL.
type BadgerStore struct {
	db       *badger.DB
	ttl      time.Duration
	inMemory bool
}

// NewBadgerStore opens (or creates) a BadgerDB at path.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Silence default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// NewMemoryStore runs BadgerDB in memory. Nothing survives a restart, which
// makes it suitable for development and tests.
func NewMemoryStore(ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl, inMemory: true}, nil
}

func badgerKey(id, key string) []byte {
	return []byte(fmt.Sprintf("session:%s:%s", id, key))
}

// Get reads a value; expired entries are reported as ErrNotFound
func (s *BadgerStore) Get(_ context.Context, id, key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set writes a value with a fresh TTL
func (s *BadgerStore) Set(_ context.Context, id, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(id, key), value)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Remove deletes a value
func (s *BadgerStore) Remove(_ context.Context, id, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id, key))
	})
}

// CollectGarbage rewrites value log files until badger reports there is
// nothing left to reclaim. In-memory stores have no value log.
func (s *BadgerStore) CollectGarbage() error {
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(0.7)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close closes the database
func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
