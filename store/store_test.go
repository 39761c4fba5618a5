package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the common store contract against one backend.
func exerciseStore(t *testing.T, backend Backend) {
	s, err := backend.Open("planets")
	require.NoError(t, err)

	_, err = s.Get("earth")
	require.Error(t, err)
	assert.True(t, IsKeyError(err))

	require.NoError(t, s.Set("earth", map[string]interface{}{"radius": float64(6371)}))
	require.NoError(t, s.Set("mars", map[string]interface{}{"radius": float64(3389)}))
	require.NoError(t, s.Save())

	value, err := s.Get("earth")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"radius": float64(6371)}, value)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"earth", "mars"}, keys)

	require.NoError(t, s.Delete("mars"))
	err = s.Delete("mars")
	require.Error(t, err)
	assert.True(t, IsKeyError(err))

	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"earth"}, keys)

	require.NoError(t, s.Drop())
	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, backend)
}

func TestFileBackendPersistsOnSave(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s, err := backend.Open("planets")
	require.NoError(t, err)
	require.NoError(t, s.Set("earth", "blue"))

	// unsaved writes are invisible to a fresh backend
	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	fresh, err := reopened.Open("planets")
	require.NoError(t, err)
	_, err = fresh.Get("earth")
	assert.True(t, IsKeyError(err))

	require.NoError(t, s.Save())
	reopened, err = NewFileBackend(dir)
	require.NoError(t, err)
	fresh, err = reopened.Open("planets")
	require.NoError(t, err)
	value, err := fresh.Get("earth")
	require.NoError(t, err)
	assert.Equal(t, "blue", value)

	stores, err := reopened.Stores()
	require.NoError(t, err)
	assert.Equal(t, []string{"planets"}, stores)
}

func TestFileBackendSharesStores(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	first, err := backend.Open("planets")
	require.NoError(t, err)
	second, err := backend.Open("planets")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s, err := backend.Open("planets")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("planet-%d-%d", n, j)
				assert.NoError(t, s.Set(key, map[string]interface{}{"n": float64(j)}))
				assert.NoError(t, s.Save())
			}
		}(i)
	}
	wg.Wait()

	// the published file is a complete store
	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	fresh, err := reopened.Open("planets")
	require.NoError(t, err)
	keys, err := fresh.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 8*20)
}

func TestFileStoreIncr(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s, err := backend.Open("counters")
	require.NoError(t, err)

	n, err := Incr(s, "hits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = Incr(s, "hits", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, s.Set("hits", "not a number"))
	_, err = Incr(s, "hits", 1)
	assert.Error(t, err)
}

func TestDirectoryBackend(t *testing.T) {
	backend, err := NewDirectoryBackend(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, backend)
}

func TestDirectoryStoreIsDirect(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewDirectoryBackend(dir)
	require.NoError(t, err)
	s, err := backend.Open("planets")
	require.NoError(t, err)
	require.NoError(t, s.Set("earth", "blue"))

	// no Save needed, a fresh backend sees the write
	reopened, err := NewDirectoryBackend(dir)
	require.NoError(t, err)
	fresh, err := reopened.Open("planets")
	require.NoError(t, err)
	value, err := fresh.Get("earth")
	require.NoError(t, err)
	assert.Equal(t, "blue", value)

	stores, err := reopened.Stores()
	require.NoError(t, err)
	assert.Equal(t, []string{"planets"}, stores)
}

func TestDirectoryStoreRejectsSlashes(t *testing.T) {
	backend, err := NewDirectoryBackend(t.TempDir())
	require.NoError(t, err)
	s, err := backend.Open("planets")
	require.NoError(t, err)
	assert.Error(t, s.Set("a/b", "value"))
	_, err = s.Get("a/b")
	assert.Error(t, err)
	_, err = backend.Open("a/b")
	assert.Error(t, err)
}

func TestDirectoryStoreNoCounters(t *testing.T) {
	backend, err := NewDirectoryBackend(t.TempDir())
	require.NoError(t, err)
	s, err := backend.Open("counters")
	require.NoError(t, err)
	_, err = Incr(s, "hits", 1)
	assert.Equal(t, ErrNotSupported, err)
}

func TestBoltBackend(t *testing.T) {
	backend, err := NewBoltBackend(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer backend.Close()
	exerciseStore(t, backend)
}

func TestBoltStoreIncr(t *testing.T) {
	backend, err := NewBoltBackend(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer backend.Close()
	s, err := backend.Open("counters")
	require.NoError(t, err)

	n, err := Incr(s, "hits", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)
	n, err = Incr(s, "hits", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestBoltBackendStores(t *testing.T) {
	backend, err := NewBoltBackend(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer backend.Close()
	_, err = backend.Open("planets")
	require.NoError(t, err)
	_, err = backend.Open("moons")
	require.NoError(t, err)
	stores, err := backend.Stores()
	require.NoError(t, err)
	assert.Equal(t, []string{"moons", "planets"}, stores)
}
