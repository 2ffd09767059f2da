package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ThumbStore keeps rendered thumbnail bytes in an in-memory badger instance.
// Each entry carries its own TTL and a one-byte tag for the encoded format.
type ThumbStore struct {
	db *badger.DB
}

func New() (*ThumbStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &ThumbStore{
		db: db,
	}, nil
}

func (s *ThumbStore) Close() error {
	return s.db.Close()
}

// Get returns the stored bytes and format tag for key. A missing or expired key yields ok == false.
func (s *ThumbStore) Get(key string) (data []byte, format byte, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("thumb:" + key))
		if err != nil {
			return err
		}

		format = item.UserMeta()
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get thumbnail: %w", err)
	}

	return data, format, true, nil
}

// Set stores data under key for ttl, replacing any previous entry
func (s *ThumbStore) Set(key string, data []byte, format byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("thumb:"+key), data).
			WithMeta(format).
			WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to set thumbnail: %w", err)
	}
	return nil
}

func (s *ThumbStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("thumb:" + key))
	})
}

// Count returns the number of live entries
func (s *ThumbStore) Count() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // We only need to count, not read values
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte("thumb:")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			count++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count thumbnails: %w", err)
	}

	return count, nil
}

// Clear drops every stored thumbnail
func (s *ThumbStore) Clear() error {
	return s.db.DropAll()
}
