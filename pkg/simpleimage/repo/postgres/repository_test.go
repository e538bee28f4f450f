package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage/repo/repotest"
)

// newTestPool connects to TEST_DATABASE_URL and applies migrations,
// skipping the test when no database is configured
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(connString, ""), "Failed to migrate test database")

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepository_Contract(t *testing.T) {
	pool := newTestPool(t)
	repo := NewWithPool(pool)

	prefix := uuid.NewString()[:8] + "_"
	repotest.Run(t, repo, prefix)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestMigrationURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://localhost/db":                        "pgx5://localhost/db",
		"pgx5://localhost/db":                              "pgx5://localhost/db",
	}
	for in, want := range cases {
		assert.Equal(t, want, migrationURL(in, ""), in)
	}

	withSchema := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?search_path=images&sslmode=disable",
		"postgresql://localhost/db":                        "pgx5://localhost/db?search_path=images",
		"pgx5://localhost/db?search_path=public":           "pgx5://localhost/db?search_path=images",
	}
	for in, want := range withSchema {
		assert.Equal(t, want, migrationURL(in, "images"), in)
	}
}

func TestDecodeRecord(t *testing.T) {
	doc := []byte(`{"bucket":"images","fileName":"uploads/a.png","userId":"u1","size":12,
		"labels":[{"description":"cat","score":0.9,"topicality":0.8}],
		"uploadedTimestamp":"2024-05-01T12:00:00Z","visionApiError":"quota"}`)

	rec, err := decodeRecord("uploads_a.png", doc)
	require.NoError(t, err)
	assert.Equal(t, "uploads_a.png", rec.ID)
	assert.Equal(t, "images", rec.Container)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Equal(t, int64(12), rec.SizeBytes)
	require.Len(t, rec.Labels, 1)
	assert.Equal(t, "cat", rec.Labels[0].Description)
	require.NotNil(t, rec.UploadedAt)
	assert.Equal(t, "quota", rec.VisionError)

	_, err = decodeRecord("x", []byte("not json"))
	assert.Error(t, err)
}
