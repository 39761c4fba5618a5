package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

// FileBackend keeps each collection in one JSON file under a root
// directory. Stores are buffered: Open loads the file, Save writes it
// back atomically.
type FileBackend struct {
	root string

	mutex  sync.Mutex
	stores map[string]*FileStore
}

// NewFileBackend returns a backend rooted at dir, creating it when
// missing.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create store root %s: %w", dir, err)
	}
	return &FileBackend{root: dir, stores: map[string]*FileStore{}}, nil
}

// Open loads the collection file into a FileStore. The same name always
// yields the same store, so concurrent requests share one buffer.
func (b *FileBackend) Open(collection string) (Store, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if s, ok := b.stores[collection]; ok {
		return s, nil
	}
	s := &FileStore{
		path: filepath.Join(b.root, collection),
		data: map[string]interface{}{},
	}
	raw, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("store %s is corrupted: %w", collection, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	b.stores[collection] = s
	return s, nil
}

// Stores lists the collection files under the root.
func (b *FileBackend) Stores() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FileStore is a buffered store backed by a single JSON file.
type FileStore struct {
	path string

	mutex sync.RWMutex
	data  map[string]interface{}

	// saving serializes Save calls so two of them never race on the
	// temporary file
	saving sync.Mutex
}

// Get returns the buffered value for key.
func (s *FileStore) Get(key string) (interface{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, &KeyError{Key: key}
	}
	return value, nil
}

// Set writes the value into the buffer. The file is untouched until
// Save.
func (s *FileStore) Set(key string, value interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data[key] = value
	return nil
}

// Delete removes the key from the buffer.
func (s *FileStore) Delete(key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.data[key]; !ok {
		return &KeyError{Key: key}
	}
	delete(s.data, key)
	return nil
}

// Keys lists the buffered keys in sorted order.
func (s *FileStore) Keys() ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr adds by to the counter at key. JSON numbers load as float64, so
// both representations count.
func (s *FileStore) Incr(key string, by int64) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var current int64
	switch v := s.data[key].(type) {
	case nil:
	case int64:
		current = v
	case int:
		current = int64(v)
	case float64:
		current = int64(v)
	default:
		return 0, fmt.Errorf("key `%s` does not hold a counter", key)
	}
	current += by
	s.data[key] = current
	return current, nil
}

// Save writes the buffer to the file, through a temporary file and a
// rename so readers never see a partial store. Only one Save runs at a
// time; the buffer stays open for reads and writes meanwhile.
func (s *FileStore) Save() error {
	s.saving.Lock()
	defer s.saving.Unlock()
	s.mutex.RLock()
	raw, err := json.Marshal(s.data)
	s.mutex.RUnlock()
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Drop discards the buffer and removes the file.
func (s *FileStore) Drop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data = map[string]interface{}{}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
