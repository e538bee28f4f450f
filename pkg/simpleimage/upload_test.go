package simpleimage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
	repomemory "github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

func TestNewUploadService_RequiresDependencies(t *testing.T) {
	store := memorystorage.New()
	repo := repomemory.New()
	verifier := tokenVerifier{}

	tests := []struct {
		name string
		opts []simpleimage.Option
	}{
		{"no store", []simpleimage.Option{
			simpleimage.WithMetadataStore(repo), simpleimage.WithIdentityVerifier(verifier), simpleimage.WithContainer(testBucket),
		}},
		{"no metadata", []simpleimage.Option{
			simpleimage.WithObjectStore(store), simpleimage.WithIdentityVerifier(verifier), simpleimage.WithContainer(testBucket),
		}},
		{"no verifier", []simpleimage.Option{
			simpleimage.WithObjectStore(store), simpleimage.WithMetadataStore(repo), simpleimage.WithContainer(testBucket),
		}},
		{"no container", []simpleimage.Option{
			simpleimage.WithObjectStore(store), simpleimage.WithMetadataStore(repo), simpleimage.WithIdentityVerifier(verifier),
		}},
		{"sync ocr without vision", []simpleimage.Option{
			simpleimage.WithObjectStore(store), simpleimage.WithMetadataStore(repo), simpleimage.WithIdentityVerifier(verifier),
			simpleimage.WithContainer(testBucket), simpleimage.WithSyncOCR(true),
		}},
		{"empty mime list", []simpleimage.Option{
			simpleimage.WithObjectStore(store), simpleimage.WithMetadataStore(repo), simpleimage.WithIdentityVerifier(verifier),
			simpleimage.WithContainer(testBucket), simpleimage.WithAllowedMimeTypes(" "),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := simpleimage.NewUploadService(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestUpload_StoresObjectAndStub(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	assert.Equal(t, testBucket, res.Container)
	assert.Equal(t, "alice/cat.jpg", res.Path)
	assert.Equal(t, "alice_cat.jpg", res.DocID)
	assert.Equal(t, "cat.jpg", res.FileName)

	attrs, err := env.store.Stat(ctx, testBucket, res.Path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", attrs.ContentType)
	assert.Equal(t, "alice", attrs.Metadata[simpleimage.OwnerMetadataKey])

	rc, err := env.store.Get(ctx, testBucket, res.Path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "jpeg-bytes", string(data))

	rec, err := env.repo.Get(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, testBucket, rec.Container)
	assert.Equal(t, "alice/cat.jpg", rec.Path)
	assert.Equal(t, "mem://images/alice/cat.jpg", rec.URI)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, int64(len("jpeg-bytes")), rec.SizeBytes)
	require.NotNil(t, rec.UploadedAt)
	assert.True(t, fixedNow.Equal(*rec.UploadedAt))
	assert.Nil(t, rec.ProcessedAt, "enrichment happens in the pipeline")
	assert.Empty(t, rec.Labels)
	assert.Nil(t, rec.OCRText)

	assert.Equal(t, []string{"created"}, env.metrics.uploads)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     simpleimage.UploadRequest
		wantErr error
		status  string
	}{
		{
			name:    "missing credential",
			req:     simpleimage.UploadRequest{File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/jpeg"},
			wantErr: simpleimage.ErrMissingCredential,
			status:  "unauthorized",
		},
		{
			name:    "invalid credential",
			req:     simpleimage.UploadRequest{Credential: "forged", File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/jpeg"},
			wantErr: simpleimage.ErrUnauthorized,
			status:  "unauthorized",
		},
		{
			name:    "missing file",
			req:     simpleimage.UploadRequest{Credential: "alice-token", FileName: "a.jpg", MimeType: "image/jpeg"},
			wantErr: simpleimage.ErrMissingFile,
			status:  "rejected",
		},
		{
			name:    "pdf",
			req:     simpleimage.UploadRequest{Credential: "alice-token", File: strings.NewReader("%PDF"), FileName: "a.pdf", MimeType: "application/pdf"},
			wantErr: simpleimage.ErrUnsupportedMediaType,
			status:  "rejected",
		},
		{
			name:    "missing mime type",
			req:     simpleimage.UploadRequest{Credential: "alice-token", File: strings.NewReader("x"), FileName: "a.jpg"},
			wantErr: simpleimage.ErrUnsupportedMediaType,
			status:  "rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			_, err := env.uploadService(t).Upload(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, env.store.Len(), "nothing may be stored")
			assert.Equal(t, 0, env.repo.Len(), "no document may be written")
			assert.Equal(t, []string{tt.status}, env.metrics.uploads)
		})
	}

	t.Run("unsupported type names the type", func(t *testing.T) {
		env := setupTestEnv(t)
		_, err := env.uploadService(t).Upload(context.Background(), tests[3].req)
		assert.Contains(t, err.Error(), "application/pdf")
	})
}

func TestUpload_MimeTypes(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.uploadService(t)

	for _, mimeType := range []string{"image/jpeg", "image/png", "image/gif", "IMAGE/JPEG"} {
		_, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
			Credential: "alice-token",
			File:       strings.NewReader("x"),
			FileName:   strings.ReplaceAll(mimeType, "/", "-"),
			MimeType:   mimeType,
		})
		assert.NoError(t, err, mimeType)
	}

	custom := env.uploadService(t, simpleimage.WithAllowedMimeTypes("image/webp"))
	_, err := custom.Upload(context.Background(), simpleimage.UploadRequest{
		Credential: "alice-token", File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/jpeg",
	})
	assert.ErrorIs(t, err, simpleimage.ErrUnsupportedMediaType)
}

func TestUpload_SyncOCR(t *testing.T) {
	t.Run("stores text with the stub", func(t *testing.T) {
		env := setupTestEnv(t)
		svc := env.uploadService(t, simpleimage.WithSyncOCR(true))

		res, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
			Credential: "alice-token",
			File:       strings.NewReader("jpeg-bytes"),
			FileName:   "sign.jpg",
			MimeType:   "image/jpeg",
		})
		require.NoError(t, err)

		rec, err := env.repo.Get(context.Background(), res.DocID)
		require.NoError(t, err)
		require.NotNil(t, rec.OCRText)
		assert.Equal(t, "HELLO WORLD", *rec.OCRText)
		assert.Equal(t, int64(len("jpeg-bytes")), rec.SizeBytes)

		require.Len(t, env.vision.sources, 1)
		assert.Equal(t, []byte("jpeg-bytes"), env.vision.sources[0].Content)
	})

	t.Run("vision failure degrades to empty text", func(t *testing.T) {
		env := setupTestEnv(t)
		env.vision.textErr = errors.New("quota exceeded")
		svc := env.uploadService(t, simpleimage.WithSyncOCR(true))

		res, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
			Credential: "alice-token",
			File:       strings.NewReader("jpeg-bytes"),
			FileName:   "sign.jpg",
			MimeType:   "image/jpeg",
		})
		require.NoError(t, err)

		rec, err := env.repo.Get(context.Background(), res.DocID)
		require.NoError(t, err)
		require.NotNil(t, rec.OCRText)
		assert.Equal(t, "", *rec.OCRText)
		assert.Equal(t, []string{"text"}, env.metrics.vision)
	})
}

type failingPutStore struct {
	*memorystorage.Backend
}

func (s failingPutStore) Put(ctx context.Context, obj simpleimage.PutObject) error {
	return errors.New("bucket unavailable")
}

func TestUpload_StorageFailureWritesNoStub(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.uploadService(t, simpleimage.WithObjectStore(failingPutStore{env.store}))

	_, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
		Credential: "alice-token", File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/jpeg",
	})

	var storageErr *simpleimage.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "put", storageErr.Op)
	assert.Equal(t, 0, env.repo.Len())
	assert.Equal(t, []string{"failed"}, env.metrics.uploads)
}

func TestUpload_AnonymousOwner(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.uploadService(t, simpleimage.WithIdentityVerifier(simpleimage.NewAnonymousVerifier()))

	res, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
		File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "/a.jpg", res.Path)

	attrs, err := env.store.Stat(context.Background(), testBucket, res.Path)
	require.NoError(t, err)
	_, stamped := attrs.Metadata[simpleimage.OwnerMetadataKey]
	assert.False(t, stamped, "no owner is stamped on anonymous objects")

	rec, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)
	assert.Equal(t, "", rec.OwnerID)
}

func TestUpload_VerifiedSubjectInContext(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.uploadService(t)

	subject, err := svc.Authenticate(context.Background(), "bob-token")
	require.NoError(t, err)
	ctx := simpleimage.ContextWithSubject(context.Background(), subject)

	res, err := svc.Upload(ctx, simpleimage.UploadRequest{
		File: strings.NewReader("x"), FileName: "a.jpg", MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob/a.jpg", res.Path)

	_, err = svc.Authenticate(context.Background(), "forged")
	assert.ErrorIs(t, err, simpleimage.ErrUnauthorized)
}
