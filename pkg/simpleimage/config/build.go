package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/auth"
	"github.com/tendant/simple-image/pkg/simpleimage/events"
	"github.com/tendant/simple-image/pkg/simpleimage/logging"
	"github.com/tendant/simple-image/pkg/simpleimage/metrics"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
	repofs "github.com/tendant/simple-image/pkg/simpleimage/repo/firestore"
	repomemory "github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
	fsstorage "github.com/tendant/simple-image/pkg/simpleimage/storage/fs"
	gcsstorage "github.com/tendant/simple-image/pkg/simpleimage/storage/gcs"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
	s3storage "github.com/tendant/simple-image/pkg/simpleimage/storage/s3"
	"github.com/tendant/simple-image/pkg/simpleimage/vision"
)

// App is the set of components of a running image server
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	Store    simpleimage.ObjectStore
	Metadata simpleimage.MetadataStore
	Vision   simpleimage.VisionAnnotator
	Verifier simpleimage.IdentityVerifier

	// Signer is set for the memory and fs backends, whose signed URLs are
	// served by this process
	Signer *presigned.Signer
	// Dispatcher is set for the memory and fs backends, which have no
	// external event source
	Dispatcher *events.LocalDispatcher

	Upload   *simpleimage.UploadService
	Pipeline *simpleimage.Pipeline
	Query    *simpleimage.QueryService
	OCR      *simpleimage.OCRService

	pingers map[string]simpleimage.Pinger
	closers []func() error
}

// eventSinkSetter is implemented by stores that report their own writes
type eventSinkSetter interface {
	SetEventSink(sink simpleimage.EventSink)
}

// NewLogger builds the process logger writing to stderr
func (c *Config) NewLogger() (*slog.Logger, error) {
	return logging.New(os.Stderr, logging.Config{Format: c.Log.Format, Level: c.Log.Level})
}

// Build creates every component described by the configuration. On error
// the components created so far are closed.
func (c *Config) Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:   c,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		pingers:  map[string]simpleimage.Pinger{},
	}
	if err := app.build(ctx); err != nil {
		if cerr := app.Close(); cerr != nil {
			logger.Warn("Failed to close partially built components", "error", cerr)
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	c := a.Config

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(a.Registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.Metrics = recorder

	if a.Store, err = a.buildStorage(ctx); err != nil {
		return err
	}
	if a.Metadata, err = a.buildMetadata(ctx); err != nil {
		return err
	}
	if a.Vision, err = a.buildVision(ctx); err != nil {
		return err
	}
	if a.Verifier, err = a.buildVerifier(ctx); err != nil {
		return err
	}

	common := []simpleimage.Option{
		simpleimage.WithObjectStore(a.Store),
		simpleimage.WithMetadataStore(a.Metadata),
		simpleimage.WithVision(a.Vision),
		simpleimage.WithIdentityVerifier(a.Verifier),
		simpleimage.WithContainer(c.Storage.Bucket),
		simpleimage.WithAllowedMimeTypes(normalizeList(c.Features.AllowedMimeTypes)...),
		simpleimage.WithMetrics(a.Metrics),
		simpleimage.WithLogger(a.Logger),
		simpleimage.WithTimeouts(c.ServiceTimeouts()),
		simpleimage.WithSignedURLTTL(c.Features.SignedURLTTL),
		simpleimage.WithSyncOCR(c.Features.SyncOCR),
		simpleimage.WithOCREnrichment(c.Features.EnrichOCR),
		simpleimage.WithInlineImageBytes(c.InlineImageBytes()),
		simpleimage.WithOwnerScoping(c.Features.OwnerScoped),
		simpleimage.WithOCRAuth(c.Features.OCRRequireAuth),
	}

	if a.Pipeline, err = simpleimage.NewPipeline(common...); err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	if a.Upload, err = simpleimage.NewUploadService(common...); err != nil {
		return fmt.Errorf("failed to create upload service: %w", err)
	}
	if a.Query, err = simpleimage.NewQueryService(common...); err != nil {
		return fmt.Errorf("failed to create query service: %w", err)
	}
	if a.OCR, err = simpleimage.NewOCRService(common...); err != nil {
		return fmt.Errorf("failed to create ocr service: %w", err)
	}

	if setter, ok := a.Store.(eventSinkSetter); ok {
		a.Dispatcher = events.NewLocalDispatcher(a.Pipeline, a.Logger)
		setter.SetEventSink(a.Dispatcher)
		a.closers = append(a.closers, a.Dispatcher.Close)
		a.Logger.Info("Local event dispatch enabled", "storage_backend", c.Storage.Backend)
	}
	return nil
}

func (a *App) buildStorage(ctx context.Context) (simpleimage.ObjectStore, error) {
	c := a.Config
	switch c.Storage.Backend {
	case "memory":
		a.Signer = a.localSigner()
		return memorystorage.New(memorystorage.WithSigner(a.Signer)), nil

	case "fs":
		a.Signer = a.localSigner()
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: c.Storage.BaseDir, Signer: a.Signer})
		if err != nil {
			return nil, fmt.Errorf("failed to create fs storage: %w", err)
		}
		return backend, nil

	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 c.Storage.S3.Region,
			Bucket:                 c.Storage.Bucket,
			AccessKeyID:            c.Storage.S3.AccessKeyID,
			SecretAccessKey:        c.Storage.S3.SecretAccessKey,
			Endpoint:               c.Storage.S3.Endpoint,
			UsePathStyle:           c.Storage.S3.UsePathStyle,
			SigningRoleARN:         c.Storage.S3.SigningRoleARN,
			EnableSSE:              c.Storage.S3.EnableSSE,
			SSEAlgorithm:           c.Storage.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.Storage.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.Storage.S3.CreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 storage: %w", err)
		}
		a.pingers["storage"] = backend
		return backend, nil

	case "gcs":
		backend, err := gcsstorage.New(ctx, gcsstorage.Config{
			ProjectID:             c.Storage.GCS.ProjectID,
			Bucket:                c.Storage.Bucket,
			CredentialsFile:       c.Storage.GCS.CredentialsFile,
			Endpoint:              c.Storage.GCS.Endpoint,
			SigningServiceAccount: c.Storage.GCS.SigningServiceAccount,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gcs storage: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		a.pingers["storage"] = backend
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
}

// localSigner returns the HMAC signer of the memory and fs backends. Without
// a secret it is disabled and signed URLs are rejected.
func (a *App) localSigner() *presigned.Signer {
	if a.Config.Storage.SigningSecret == "" {
		a.Logger.Warn("No signing secret configured, signed urls are disabled")
	}
	return presigned.New(
		presigned.WithSecretKey(a.Config.Storage.SigningSecret),
		presigned.WithBaseURL(a.Config.Server.PublicBaseURL),
	)
}

func (a *App) buildMetadata(ctx context.Context) (simpleimage.MetadataStore, error) {
	c := a.Config
	switch c.Metadata.Backend {
	case "memory":
		return repomemory.New(), nil

	case "postgres":
		if c.Metadata.AutoMigrate {
			if err := repopg.Migrate(c.Metadata.DatabaseURL, c.Metadata.DatabaseSchema); err != nil {
				return nil, err
			}
			a.Logger.Info("Database migrations applied")
		}
		pool, err := NewDBPool(ctx, c.Metadata.DatabaseURL, c.Metadata.DatabaseSchema)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		repo := repopg.NewWithPool(pool)
		a.pingers["metadata"] = repo
		return repo, nil

	case "firestore":
		client, err := firestore.NewClient(ctx, c.Storage.GCS.ProjectID, a.googleOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		repo := repofs.New(client, c.Metadata.FirestoreCollection)
		a.pingers["metadata"] = repo
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", c.Metadata.Backend)
	}
}

func (a *App) buildVision(ctx context.Context) (simpleimage.VisionAnnotator, error) {
	if a.Config.Vision.Backend != "cloud" {
		return simpleimage.NewNoopAnnotator(), nil
	}
	annotator, err := vision.NewCloudAnnotator(ctx, a.googleOptions()...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, annotator.Close)
	return annotator, nil
}

func (a *App) buildVerifier(ctx context.Context) (simpleimage.IdentityVerifier, error) {
	c := a.Config
	switch c.Auth.Mode {
	case "none":
		a.Logger.Warn("Authentication disabled, all requests act as the anonymous user")
		return simpleimage.NewAnonymousVerifier(), nil
	case "jwt":
		return auth.NewJWTVerifier(c.Auth.JWTAlgorithm, c.Auth.JWTSecret)
	case "firebase":
		return auth.NewFirebaseVerifier(ctx, c.Storage.GCS.ProjectID, a.googleOptions()...)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", c.Auth.Mode)
	}
}

func (a *App) googleOptions() []option.ClientOption {
	var opts []option.ClientOption
	if f := a.Config.Storage.GCS.CredentialsFile; f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	return opts
}

// Ready pings every remote dependency. The returned map holds the failure
// of each dependency that did not answer.
func (a *App) Ready(ctx context.Context) map[string]error {
	failures := map[string]error{}
	for name, p := range a.pingers {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.Ping(pctx); err != nil {
			failures[name] = err
		}
		cancel()
	}
	return failures
}

// Close releases components in reverse creation order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewDBPool opens a pgx pool and pings it. When schema is set every
// connection uses it as search_path.
func NewDBPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}
