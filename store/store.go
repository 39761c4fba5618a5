/*Package store provides the key-value persistence layer for managers.

A Backend groups named collections. Each collection opens as a Store, a
mapping of string keys to JSON-representable values. Two families of
stores exist: buffered stores load everything at Open and persist on
Save, while direct stores hit the underlying medium on every call and
their Save is a no-op. Counters are only available on backends that can
implement them atomically.
*/
package store

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned by operations a backend cannot provide,
// such as Incr on stores without atomic counters.
var ErrNotSupported = errors.New("operation not supported by this backend")

// KeyError reports a missing key in a store.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key `%s` not found", e.Key)
}

// IsKeyError reports whether err is a missing-key error.
func IsKeyError(err error) bool {
	var kerr *KeyError
	return errors.As(err, &kerr)
}

// Store is one opened collection of a backend.
type Store interface {
	// Get returns the value for key, or a *KeyError.
	Get(key string) (interface{}, error)
	// Set writes the value for key.
	Set(key string, value interface{}) error
	// Delete removes the key. Removing an absent key is a *KeyError.
	Delete(key string) error
	// Keys lists the keys of the store.
	Keys() ([]string, error)
	// Save persists pending writes. Direct stores persist on Set and
	// return nil here.
	Save() error
	// Drop discards the whole store, buffered and persisted state alike.
	Drop() error
}

// Counter is implemented by stores with atomic counters.
type Counter interface {
	// Incr adds by to the integer value of key, starting from zero when
	// the key is absent, and returns the new value.
	Incr(key string, by int64) (int64, error)
}

// Backend opens the stores of one storage medium.
type Backend interface {
	// Open returns the store of the named collection, creating it when
	// absent. Opening the same name twice returns the same store.
	Open(collection string) (Store, error)
	// Stores lists the existing collection names.
	Stores() ([]string, error)
}

// Incr increments a counter on the store, or reports ErrNotSupported
// when the store has no atomic counters.
func Incr(s Store, key string, by int64) (int64, error) {
	counter, ok := s.(Counter)
	if !ok {
		return 0, ErrNotSupported
	}
	return counter.Incr(key, by)
}
