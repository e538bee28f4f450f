package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Config holds the settings of an image server process. Every field is read
// from the environment by Load; struct tags document the variable names.
type Config struct {
	Environment string `env:"ENVIRONMENT" env-default:"development" env-description:"Runtime environment (development, production, testing)"`

	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Metadata MetadataConfig
	Auth     AuthConfig
	Vision   VisionConfig
	Features FeatureConfig
	Timeouts TimeoutConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" env-description:"Scheme and host prefixed to locally signed URLs"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" env-default:"*" env-separator:"," env-description:"Comma separated allowed CORS origins"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"120s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"60s" env-description:"Per request deadline applied by the router"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type LogConfig struct {
	Format string `env:"LOG_FORMAT" env-default:"json" env-description:"Log format: json, text or tint"`
	Level  string `env:"LOG_LEVEL" env-default:"info" env-description:"Log level: debug, info, warn or error"`
}

type StorageConfig struct {
	Backend       string `env:"STORAGE_BACKEND" env-default:"memory" env-description:"Object store: memory, fs, s3 or gcs"`
	Bucket        string `env:"STORAGE_BUCKET" env-default:"images" env-description:"Bucket uploads are written to"`
	BaseDir       string `env:"STORAGE_FS_BASE_DIR" env-default:"./data/storage" env-description:"Root directory of the fs backend"`
	SigningSecret string `env:"STORAGE_SIGNING_SECRET" env-description:"HMAC secret for signed URLs of the memory and fs backends"`

	S3  S3Config
	GCS GCSConfig
}

type S3Config struct {
	Region          string `env:"AWS_REGION" env-default:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"AWS_S3_ENDPOINT" env-description:"Endpoint of an S3 compatible service, e.g. http://localhost:9000"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	SigningRoleARN  string `env:"AWS_S3_SIGNING_ROLE_ARN" env-description:"Role assumed through STS for every signed URL"`
	EnableSSE       bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm    string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID     string `env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

type GCSConfig struct {
	ProjectID             string `env:"GCP_PROJECT_ID" env-description:"Google Cloud project of the bucket, Firestore and Firebase"`
	CredentialsFile       string `env:"GCP_CREDENTIALS_FILE" env-description:"Service account key file, application default credentials when empty"`
	Endpoint              string `env:"GCS_ENDPOINT"`
	SigningServiceAccount string `env:"GCS_SIGNING_SERVICE_ACCOUNT" env-description:"Service account impersonated to sign URLs"`
}

type MetadataConfig struct {
	Backend             string `env:"METADATA_BACKEND" env-default:"memory" env-description:"Metadata store: memory, postgres or firestore"`
	DatabaseURL         string `env:"DATABASE_URL" env-description:"Postgres connection string"`
	DatabaseSchema      string `env:"DATABASE_SCHEMA" env-description:"Postgres search_path set on every connection"`
	AutoMigrate         bool   `env:"DATABASE_AUTO_MIGRATE" env-default:"false" env-description:"Apply Postgres migrations at startup"`
	FirestoreCollection string `env:"FIRESTORE_COLLECTION" env-default:"image_metadata" env-description:"Firestore collection holding image documents"`
}

type AuthConfig struct {
	Mode         string `env:"AUTH_MODE" env-default:"none" env-description:"Bearer verification: none, jwt or firebase"`
	JWTAlgorithm string `env:"AUTH_JWT_ALGORITHM" env-default:"HS256"`
	JWTSecret    string `env:"AUTH_JWT_SECRET"`
}

type VisionConfig struct {
	Backend     string `env:"VISION_BACKEND" env-default:"noop" env-description:"Vision annotator: noop or cloud"`
	InlineBytes bool   `env:"VISION_INLINE_BYTES" env-default:"false" env-description:"Send object bytes instead of the object URI; implied for non gcs storage"`
}

type FeatureConfig struct {
	SyncOCR          bool          `env:"UPLOAD_SYNC_OCR" env-default:"false" env-description:"Run text detection during upload"`
	EnrichOCR        bool          `env:"ENRICH_OCR" env-default:"true" env-description:"Run text detection in the finalize trigger"`
	OwnerScoped      bool          `env:"QUERY_OWNER_SCOPED" env-default:"true" env-description:"Restrict metadata reads to the owner"`
	OCRRequireAuth   bool          `env:"OCR_REQUIRE_AUTH" env-default:"false"`
	MaxUploadSize    string        `env:"UPLOAD_MAX_SIZE" env-default:"10MB" env-description:"Largest accepted request body, e.g. 10MB"`
	AllowedMimeTypes []string      `env:"UPLOAD_ALLOWED_MIME_TYPES" env-default:"image/jpeg,image/png,image/gif" env-separator:","`
	SignedURLTTL     time.Duration `env:"SIGNED_URL_TTL" env-default:"15m"`
}

type TimeoutConfig struct {
	Identity time.Duration `env:"TIMEOUT_IDENTITY" env-default:"5s"`
	Storage  time.Duration `env:"TIMEOUT_STORAGE" env-default:"30s"`
	Vision   time.Duration `env:"TIMEOUT_VISION" env-default:"30s"`
	Metadata time.Duration `env:"TIMEOUT_METADATA" env-default:"10s"`
	Signing  time.Duration `env:"TIMEOUT_SIGNING" env-default:"10s"`
}

// Option is a functional option for configuring a Config
type Option func(*Config) error

// Load reads the environment into a Config, applies options and validates the result
func Load(opts ...Option) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return apply(cfg, opts)
}

// LoadFile reads a YAML, JSON, TOML or EDN file, lets the environment
// override it, applies options and validates the result
func LoadFile(path string, opts ...Option) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return apply(cfg, opts)
}

func apply(cfg *Config, opts []Option) (*Config, error) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment. Variables
// already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Description returns the documented environment variables
func Description() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("port is required")
	}

	switch c.Storage.Backend {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return errors.New("storage base dir is required for fs backend")
		}
	case "s3":
		if c.Storage.S3.Region == "" {
			return errors.New("aws region is required for s3 backend")
		}
		if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
			return errors.New("aws access key id and secret access key must be set together")
		}
	case "gcs":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage bucket is required")
	}

	switch c.Metadata.Backend {
	case "memory":
	case "postgres":
		if c.Metadata.DatabaseURL == "" {
			return errors.New("database url is required for postgres")
		}
	case "firestore":
		if c.Storage.GCS.ProjectID == "" {
			return errors.New("gcp project id is required for firestore")
		}
	default:
		return fmt.Errorf("unsupported metadata backend: %s", c.Metadata.Backend)
	}

	switch c.Auth.Mode {
	case "none":
		if c.Features.OCRRequireAuth {
			return errors.New("ocr auth requires an auth mode other than none")
		}
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return errors.New("jwt secret is required for jwt auth")
		}
	case "firebase":
		if c.Storage.GCS.ProjectID == "" {
			return errors.New("gcp project id is required for firebase auth")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %s", c.Auth.Mode)
	}

	switch c.Vision.Backend {
	case "noop", "cloud":
	default:
		return fmt.Errorf("unsupported vision backend: %s", c.Vision.Backend)
	}

	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if len(normalizeList(c.Features.AllowedMimeTypes)) == 0 {
		return errors.New("at least one allowed mime type is required")
	}
	if c.Features.SignedURLTTL <= 0 {
		return errors.New("signed url ttl must be positive")
	}
	return nil
}

// MaxUploadBytes parses MaxUploadSize. Zero means unlimited.
func (c *Config) MaxUploadBytes() (int64, error) {
	raw := strings.TrimSpace(c.Features.MaxUploadSize)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	n, err := units.FromHumanSize(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid max upload size %q: %w", raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid max upload size %q", raw)
	}
	return n, nil
}

// ServiceTimeouts converts the timeout settings for the services
func (c *Config) ServiceTimeouts() simpleimage.Timeouts {
	return simpleimage.Timeouts{
		Identity: c.Timeouts.Identity,
		Storage:  c.Timeouts.Storage,
		Vision:   c.Timeouts.Vision,
		Metadata: c.Timeouts.Metadata,
		Signing:  c.Timeouts.Signing,
	}
}

// InlineImageBytes reports whether the pipeline must send object bytes to
// the vision service. Only gs:// URIs can be read by Cloud Vision directly.
func (c *Config) InlineImageBytes() bool {
	return c.Vision.InlineBytes || c.Storage.Backend != "gcs"
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
