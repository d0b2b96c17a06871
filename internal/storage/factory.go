// factory.go implements the backend registry, mapping archive backend names
// (local, s3, gcs, azure) to constructor functions.
package storage

import (
	"fmt"
	"sync"

	"github.com/academy-hub/audit-trail/internal/config"
)

// FactoryFunc creates a backend from the archive configuration
type FactoryFunc func(*config.ArchiveConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewStorage creates the backend named by cfg.Backend
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (must be 'local', 's3', 'gcs', or 'azure')", cfg.Backend)
	}

	return factory(cfg)
}
