package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultCollection is the collection image documents are stored in
const DefaultCollection = "image_metadata"

// Repository implements simpleimage.MetadataStore on a Firestore collection.
// Document ids are simpleimage.DocumentID values.
type Repository struct {
	client     *firestore.Client
	collection string
}

// New creates a repository on an existing client. An empty collection
// selects DefaultCollection.
func New(client *firestore.Client, collection string) *Repository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Repository{client: client, collection: collection}
}

func (r *Repository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *Repository) Get(ctx context.Context, id string) (*simpleimage.ImageRecord, error) {
	snap, err := r.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, simpleimage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return decode(snap)
}

// Merge writes the set fields of patch with MergeAll, creating the document
// when it does not exist
func (r *Repository) Merge(ctx context.Context, id string, patch *simpleimage.ImagePatch) error {
	fields := map[string]interface{}{}
	if patch != nil {
		fields = patch.Fields()
	}

	var err error
	if len(fields) == 0 {
		_, err = r.doc(id).Create(ctx, fields)
		if status.Code(err) == codes.AlreadyExists {
			err = nil
		}
	} else {
		_, err = r.doc(id).Set(ctx, fields, firestore.MergeAll)
	}
	if err != nil {
		return fmt.Errorf("failed to merge document %s: %w", id, err)
	}
	return nil
}

// Delete removes the document, requiring it to exist
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return simpleimage.ErrNotFound
		}
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*simpleimage.ImageRecord, error) {
	iter := r.client.Collection(r.collection).Where(simpleimage.OwnerMetadataKey, "==", ownerID).Documents(ctx)
	defer iter.Stop()

	result := []*simpleimage.ImageRecord{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// Ping reads a single document reference to check connectivity
func (r *Repository) Ping(ctx context.Context) error {
	iter := r.client.Collection(r.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func decode(snap *firestore.DocumentSnapshot) (*simpleimage.ImageRecord, error) {
	var rec simpleimage.ImageRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}
