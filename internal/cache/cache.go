// Handles named stores of cached HTTP responses
package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName is returned when a store name or entry key cannot be used
var ErrInvalidName = errors.New("invalid name")

// Store is a single named key-value store. Values are opaque bytes
// (serialized HTTP responses). Implementations must be safe for concurrent use,
// and Set must overwrite any previous value atomically.
type Store interface {
	// retrieves the value stored under key.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores value under key, replacing any previous value
	Set(key string, value []byte) error
	// lists every key currently stored
	Keys() ([]string, error)
}

// Provider hosts the set of named stores. Stores persist until deleted.
type Provider interface {
	// initializes the provider (e.g., creates necessary directories)
	Init() error
	// opens the named store, creating it if absent
	Open(name string) (Store, error)
	// opens the named store only if it exists.
	// returns nil, nil when absent
	Lookup(name string) (Store, error)
	// reports whether the named store exists
	Has(name string) (bool, error)
	// lists every existing store name
	Names() ([]string, error)
	// deletes the named store and all of its entries.
	// returns false when there was nothing to delete
	Delete(name string) (bool, error)
	// releases resources held by the provider
	Close() error
}

// New creates the provider selected by backend ("disk", "sqlite" or "memory")
func New(backend, folder, dbFile string) (Provider, error) {
	switch backend {
	case "disk":
		return NewDisk(folder), nil
	case "sqlite":
		return NewSQLite(dbFile)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: store %q", ErrInvalidName, name)
	}
	return nil
}
