// Package filestorage implements the blob storage backend registry: large
// artifacts are addressed as (storage_type, storage_path, file_name) and
// resolved through a pluggable provider, defaulting to local filesystem.
package filestorage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/latticerun/dispatcher/pkg/models"
)

// Provider is one storage backend implementation (local disk, S3, GCS...).
// Only local is implemented here; the registry shape is what other
// backends plug into.
type Provider interface {
	// Type returns the storage_type this provider answers for.
	Type() string

	// Store writes data under storagePath/fileName and returns the path
	// actually used (the provider may normalize it).
	Store(ctx context.Context, storagePath, fileName string, r io.Reader) (path string, err error)

	// Get opens data previously stored at storagePath/fileName.
	Get(ctx context.Context, storagePath, fileName string) (io.ReadCloser, error)

	// Delete removes data at storagePath/fileName.
	Delete(ctx context.Context, storagePath, fileName string) error

	// Exists reports whether storagePath/fileName exists.
	Exists(ctx context.Context, storagePath, fileName string) (bool, error)

	Close() error
}

// Registry resolves a storage_type to its Provider, guarded the way the
// executor registry guards its factory map.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaultID string
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register associates a storage_type with a Provider. The first registered
// provider becomes the default.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
	if r.defaultID == "" {
		r.defaultID = p.Type()
	}
}

// Resolve returns the provider for storageType, or the default if
// storageType is empty.
func (r *Registry) Resolve(storageType string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if storageType == "" {
		storageType = r.defaultID
	}
	p, ok := r.providers[storageType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStorageBackendNotFound, storageType)
	}
	return p, nil
}

// Close closes every registered provider.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
