package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Repository implements simpleimage.MetadataStore using in-memory storage
type Repository struct {
	mu   sync.RWMutex
	docs map[string]*simpleimage.ImageRecord
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		docs: make(map[string]*simpleimage.ImageRecord),
	}
}

func (r *Repository) Get(ctx context.Context, id string) (*simpleimage.ImageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.docs[id]
	if !exists {
		return nil, simpleimage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *Repository) Merge(ctx context.Context, id string, patch *simpleimage.ImagePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.docs[id]
	if !exists {
		rec = &simpleimage.ImageRecord{ID: id}
		r.docs[id] = rec
	}
	if patch != nil {
		patch.Apply(rec)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[id]; !exists {
		return simpleimage.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*simpleimage.ImageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*simpleimage.ImageRecord{}
	for _, rec := range r.docs {
		if rec.OwnerID == ownerID {
			result = append(result, rec.Clone())
		}
	}

	// Newest upload first, ties by id
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].UploadedAt, result[j].UploadedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.After(*b)
		}
		if (a == nil) != (b == nil) {
			return a != nil
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Len returns the number of stored documents
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
