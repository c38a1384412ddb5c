// Package memoryprefs provides an in-memory settings store.
//
// Values only exist as long as the MemoryPrefs object is kept in reference and
// are erased if the program exits. This makes it useful for tests and for
// hosts that do not need the grant to survive restarts.
package memoryprefs

import (
	"context"
	"sync"

	"github.com/tus/doctree/pkg/bridge"
)

// MemoryPrefs keeps settings grouped by namespace in memory.
type MemoryPrefs struct {
	mutex      sync.RWMutex
	namespaces map[string]map[string]string
}

// New creates a new, empty in-memory settings store.
func New() *MemoryPrefs {
	return &MemoryPrefs{
		namespaces: make(map[string]map[string]string),
	}
}

// UseIn sets this store as the settings store in the passed composer.
func (store *MemoryPrefs) UseIn(composer *bridge.Composer) {
	composer.UseSettings(store)
}

func (store *MemoryPrefs) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	value, ok := store.namespaces[namespace][key]
	return value, ok, nil
}

func (store *MemoryPrefs) Set(ctx context.Context, namespace, key, value string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	values, ok := store.namespaces[namespace]
	if !ok {
		values = make(map[string]string)
		store.namespaces[namespace] = values
	}
	values[key] = value
	return nil
}
