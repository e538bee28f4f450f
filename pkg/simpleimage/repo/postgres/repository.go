package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleimage.MetadataStore on a JSONB document table.
// Documents keep the persisted field names of ImageRecord, and Merge is a
// top-level JSONB concatenation so concurrent writers of disjoint fields
// never overwrite each other.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		case "22P02", "22023": // invalid_text_representation, invalid_parameter_value
			return fmt.Errorf("invalid document in %s: %s", operation, pgErr.Message)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Get(ctx context.Context, id string) (*simpleimage.ImageRecord, error) {
	query := `SELECT doc FROM image_metadata WHERE id = $1`

	var doc []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleimage.ErrNotFound
		}
		return nil, r.handlePostgresError("get metadata", err)
	}

	return decodeRecord(id, doc)
}

func (r *Repository) Merge(ctx context.Context, id string, patch *simpleimage.ImagePatch) error {
	fields := map[string]interface{}{}
	if patch != nil {
		fields = patch.Fields()
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode metadata patch: %w", err)
	}

	query := `
		INSERT INTO image_metadata (id, doc, created_at, updated_at)
		VALUES ($1, $2::jsonb, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			doc = image_metadata.doc || EXCLUDED.doc,
			updated_at = now()`

	if _, err := r.db.Exec(ctx, query, id, doc); err != nil {
		return r.handlePostgresError("merge metadata", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM image_metadata WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleimage.ErrNotFound
	}
	return nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*simpleimage.ImageRecord, error) {
	query := `
		SELECT id, doc FROM image_metadata
		WHERE COALESCE(doc->>'userId', '') = $1
		ORDER BY doc->>'uploadedTimestamp' DESC NULLS LAST, id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list metadata", err)
	}
	defer rows.Close()

	result := []*simpleimage.ImageRecord{}
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, r.handlePostgresError("scan metadata", err)
		}
		rec, err := decodeRecord(id, doc)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list metadata", err)
	}
	return result, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func decodeRecord(id string, doc []byte) (*simpleimage.ImageRecord, error) {
	var rec simpleimage.ImageRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", id, err)
	}
	rec.ID = id
	return &rec, nil
}
