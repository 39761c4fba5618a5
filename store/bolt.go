package store

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// BoltBackend keeps all collections in one bbolt database file, one
// bucket per collection. Stores are direct and counters are atomic
// thanks to bbolt's update transactions.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the database file.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open store database %s: %w", path, err)
	}
	return &BoltBackend{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// Open returns the store for the collection bucket, creating the bucket
// when absent.
func (b *BoltBackend) Open(collection string) (Store, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(collection))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: b.db, bucket: []byte(collection)}, nil
}

// Stores lists the bucket names.
func (b *BoltBackend) Stores() ([]string, error) {
	names := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// BoltStore is a direct store backed by one bbolt bucket.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// Get reads and decodes the value at key.
func (s *BoltStore) Get(key string) (interface{}, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(key)); value != nil {
			raw = append([]byte{}, value...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &KeyError{Key: key}
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("key `%s` is corrupted: %w", key, err)
	}
	return value, nil
}

// Set encodes and writes the value at key.
func (s *BoltStore) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), raw)
	})
}

// Delete removes the key.
func (s *BoltStore) Delete(key string) error {
	missing := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			missing = true
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	if missing {
		return &KeyError{Key: key}
	}
	return nil
}

// Keys lists the keys of the bucket in byte order.
func (s *BoltStore) Keys() ([]string, error) {
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Incr adds by to the counter at key inside one update transaction.
func (s *BoltStore) Incr(key string, by int64) (int64, error) {
	var current int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if raw := bucket.Get([]byte(key)); raw != nil {
			var value interface{}
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("key `%s` is corrupted: %w", key, err)
			}
			number, ok := value.(float64)
			if !ok {
				return fmt.Errorf("key `%s` does not hold a counter", key)
			}
			current = int64(number)
		}
		current += by
		raw, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), raw)
	})
	if err != nil {
		return 0, err
	}
	return current, nil
}

// Save is a no-op; bbolt transactions already persisted.
func (s *BoltStore) Save() error {
	return nil
}

// Drop deletes the bucket.
func (s *BoltStore) Drop() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(s.bucket)
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
