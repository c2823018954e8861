// Package storebadger implements hnsw.Store on top of BadgerDB, an embedded
// key-value store, as the durable backing for ShardManager's shard images:
// every shard key (matching `^shard-\d{6}$`) becomes a Badger key, and every
// shard image becomes the corresponding value.
//
// © 2025 hnsw-index authors. MIT License.
package storebadger

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"

	hnsw "github.com/Voskan/hnsw-index/pkg"
)

// Store wraps a *badger.DB to satisfy hnsw.Store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database at dir and wraps it as a Store.
// Badger's own logger is disabled; ShardManager logs at the level it needs
// through its own *zap.Logger instead.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Write(_ context.Context, key string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			out = append([]byte(nil), b...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	existed := true
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *Store) List(_ context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

var _ hnsw.Store = (*Store)(nil)
