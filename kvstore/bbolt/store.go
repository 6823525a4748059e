package bbolt

import (
	"fmt"
	"time"

	"fiatjaf.com/nostrbus/kvstore"
	"go.etcd.io/bbolt"
)

var _ kvstore.KVStore = (*Store)(nil)

var defaultBucket = []byte("nostrbus")

// Store persists bus state in a single bbolt file.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

// NewStore opens (or creates) the database at path. Only one process can hold it open.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, bucket: defaultBucket}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get(key); v != nil {
			// bbolt owns v only for the lifetime of the transaction
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

func (s *Store) Set(key []byte, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key)
	})
}

func (s *Store) Update(key []byte, f func([]byte) ([]byte, error)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)

		var val []byte
		if v := b.Get(key); v != nil {
			val = append([]byte(nil), v...)
		}

		newVal, err := f(val)
		if err == kvstore.NoOp {
			return nil
		} else if err != nil {
			return err
		}

		if newVal == nil {
			return b.Delete(key)
		}
		return b.Put(key, newVal)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
