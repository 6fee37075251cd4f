package vectorstore

import (
	"context"
	"fmt"
	"slices"

	"ragagent/internal/domain"
)

// Provider exposes the collections of one vector database.
type Provider interface {
	Name() string
	Collections(ctx context.Context) ([]string, error)
	Store(name string) domain.VectorStore
	Close() error
}

// Writer persists embedded nodes into collections.
type Writer interface {
	// Upsert adds nodes to collection, creating it when missing.
	Upsert(ctx context.Context, collection string, nodes []domain.Node) error
	// Reset drops collection if it exists.
	Reset(ctx context.Context, collection string) error
}

// ReadWriter is a provider that also accepts writes.
type ReadWriter interface {
	Provider
	Writer
}

// OpenStores returns a store handle for each named collection, or for every
// collection of p when names is empty. It fails with
// domain.ErrEmptyVectorStore when nothing is available.
func OpenStores(ctx context.Context, p Provider, names ...string) ([]domain.VectorStore, error) {
	available, err := p.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s collections: %w", p.Name(), err)
	}
	if len(names) == 0 {
		names = available
	}
	stores := make([]domain.VectorStore, 0, len(names))
	for _, name := range names {
		if !slices.Contains(available, name) {
			return nil, fmt.Errorf("collection %q not found in %s", name, p.Name())
		}
		stores = append(stores, p.Store(name))
	}
	if len(stores) == 0 {
		return nil, domain.ErrEmptyVectorStore
	}
	return stores, nil
}
