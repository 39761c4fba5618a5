package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// DirectoryBackend keeps each collection as a directory and each key as
// one JSON file inside it. Stores are direct: every Set and Delete hits
// the filesystem, Save is a no-op. Counters are not supported since
// there is no way to increment a file atomically.
type DirectoryBackend struct {
	root string
}

// NewDirectoryBackend returns a backend rooted at dir, creating it when
// missing.
func NewDirectoryBackend(dir string) (*DirectoryBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create store root %s: %w", dir, err)
	}
	return &DirectoryBackend{root: dir}, nil
}

// Open returns the store for the collection directory. The directory is
// created lazily on the first write.
func (b *DirectoryBackend) Open(collection string) (Store, error) {
	if strings.ContainsRune(collection, '/') {
		return nil, fmt.Errorf("collection name `%s` contains a /", collection)
	}
	return &DirectoryStore{dir: filepath.Join(b.root, collection)}, nil
}

// Stores lists the collection directories under the root.
func (b *DirectoryBackend) Stores() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// DirectoryStore is a direct store with one file per key.
type DirectoryStore struct {
	dir string
}

func (s *DirectoryStore) keyPath(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '/') {
		return "", fmt.Errorf("key `%s` is not a valid file name", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Get reads and decodes the key file.
func (s *DirectoryStore) Get(key string) (interface{}, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &KeyError{Key: key}
	}
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("key `%s` is corrupted: %w", key, err)
	}
	return value, nil
}

// Set encodes the value into the key file. The collection directory is
// created on the first write.
func (s *DirectoryStore) Set(key string, value interface{}) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	write := func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, raw, 0600); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	}
	if err := write(); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(s.dir, 0700); err != nil {
			return err
		}
		return write()
	}
	return nil
}

// Delete removes the key file.
func (s *DirectoryStore) Delete(key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &KeyError{Key: key}
		}
		return err
	}
	return nil
}

// Keys lists the key files of the collection. Temporary and hidden
// files are skipped.
func (s *DirectoryStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' || strings.HasSuffix(name, ".tmp") {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Save is a no-op; every Set already persisted.
func (s *DirectoryStore) Save() error {
	return nil
}

// Drop removes the collection directory and everything in it.
func (s *DirectoryStore) Drop() error {
	if err := os.RemoveAll(s.dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
