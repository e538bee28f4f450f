package gcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	iamcredentials "google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Scheme prefixes object URIs of this backend
const Scheme = "gs"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// signingTokenLifetime bounds the impersonated token minted for one signature
const signingTokenLifetime = 15 * time.Minute

// Config options for the Cloud Storage backend
type Config struct {
	ProjectID       string // Project used by Ping
	Bucket          string // Default bucket, used by Ping
	CredentialsFile string // Optional service account key file
	Endpoint        string // Optional endpoint, e.g. a local emulator

	// SigningServiceAccount is impersonated for every signed URL. When empty,
	// signing falls back to the client's own credentials.
	SigningServiceAccount string
	// Delegates is the impersonation delegation chain, if any
	Delegates []string
}

// signFunc signs a V4 string-to-sign as the given service account
type signFunc func(ctx context.Context, serviceAccount string, payload []byte) ([]byte, error)

// Backend is a Cloud Storage implementation of the simpleimage.ObjectStore interface
type Backend struct {
	client    *storage.Client
	config    Config
	signBytes signFunc
}

// New creates a new Cloud Storage backend
func New(ctx context.Context, config Config, opts ...option.ClientOption) (*Backend, error) {
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	b := &Backend{client: client, config: config}
	b.signBytes = b.impersonatedSign
	return b, nil
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}

// Put streams the object with its content type and side metadata
func (b *Backend) Put(ctx context.Context, obj simpleimage.PutObject) error {
	w := b.client.Bucket(obj.Container).Object(obj.Path).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = obj.Metadata

	if _, err := io.Copy(w, obj.Body); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// Get opens an object for reading
func (b *Backend) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(container).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, simpleimage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Stat reads object attributes
func (b *Backend) Stat(ctx context.Context, container, path string) (*simpleimage.ObjectAttrs, error) {
	attrs, err := b.client.Bucket(container).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, simpleimage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return &simpleimage.ObjectAttrs{
		Container:   container,
		Path:        path,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
		Created:     attrs.Created,
		Updated:     attrs.Updated,
	}, nil
}

// Exists reports whether an object exists
func (b *Backend) Exists(ctx context.Context, container, path string) (bool, error) {
	_, err := b.Stat(ctx, container, path)
	if errors.Is(err, simpleimage.ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, container, path string) error {
	err := b.client.Bucket(container).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return simpleimage.ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// SignedURL mints a V4 GET URL. With a signing service account the URL is
// signed by a freshly impersonated credential on every call.
func (b *Backend) SignedURL(ctx context.Context, container, path string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	}
	if sa := b.config.SigningServiceAccount; sa != "" {
		opts.GoogleAccessID = sa
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return b.signBytes(ctx, sa, payload)
		}
	}

	url, err := b.client.Bucket(container).SignedURL(path, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed url: %w", err)
	}
	return url, nil
}

func (b *Backend) impersonation(serviceAccount string) impersonate.CredentialsConfig {
	return impersonate.CredentialsConfig{
		TargetPrincipal: serviceAccount,
		Scopes:          []string{cloudPlatformScope},
		Delegates:       b.config.Delegates,
		Lifetime:        signingTokenLifetime,
	}
}

// impersonatedSign signs payload through the IAM credentials API using a
// token source impersonating serviceAccount
func (b *Backend) impersonatedSign(ctx context.Context, serviceAccount string, payload []byte) ([]byte, error) {
	ts, err := impersonate.CredentialsTokenSource(ctx, b.impersonation(serviceAccount))
	if err != nil {
		return nil, fmt.Errorf("failed to impersonate %s: %w", serviceAccount, err)
	}

	svc, err := iamcredentials.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create iam credentials client: %w", err)
	}

	name := "projects/-/serviceAccounts/" + serviceAccount
	resp, err := svc.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to sign blob: %w", err)
	}
	return base64.StdEncoding.DecodeString(resp.SignedBlob)
}

// URI returns gs://container/path
func (b *Backend) URI(container, path string) string {
	return Scheme + "://" + container + "/" + path
}

// Ping checks that the default bucket is reachable
func (b *Backend) Ping(ctx context.Context) error {
	if b.config.Bucket == "" {
		return nil
	}
	_, err := b.client.Bucket(b.config.Bucket).Attrs(ctx)
	return err
}
