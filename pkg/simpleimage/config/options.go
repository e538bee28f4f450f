package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Server.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithMemoryStorage stores objects in process memory
func WithMemoryStorage(bucket string) Option {
	return func(c *Config) error {
		if bucket != "" {
			c.Storage.Bucket = bucket
		}
		c.Storage.Backend = "memory"
		return nil
	}
}

// WithFilesystemStorage stores objects under baseDir
func WithFilesystemStorage(baseDir, bucket string) Option {
	return func(c *Config) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage.Backend = "fs"
		c.Storage.BaseDir = baseDir
		if bucket != "" {
			c.Storage.Bucket = bucket
		}
		return nil
	}
}

// WithS3Storage stores objects in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *Config) error {
		if bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.Storage.Backend = "s3"
		c.Storage.Bucket = bucket
		if region != "" {
			c.Storage.S3.Region = region
		}
		return nil
	}
}

// WithGCSStorage stores objects in a Cloud Storage bucket
func WithGCSStorage(bucket, projectID string) Option {
	return func(c *Config) error {
		if bucket == "" {
			return fmt.Errorf("gcs bucket cannot be empty")
		}
		c.Storage.Backend = "gcs"
		c.Storage.Bucket = bucket
		if projectID != "" {
			c.Storage.GCS.ProjectID = projectID
		}
		return nil
	}
}

// WithSigningSecret sets the HMAC secret of locally signed URLs
func WithSigningSecret(secret string) Option {
	return func(c *Config) error {
		c.Storage.SigningSecret = secret
		return nil
	}
}

// WithDatabase configures the metadata store. dbType is memory, postgres or firestore.
func WithDatabase(dbType, url string) Option {
	return func(c *Config) error {
		switch dbType {
		case "memory", "firestore":
		case "postgres":
			if url == "" {
				return fmt.Errorf("database URL is required for postgres")
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'firestore', got: %s", dbType)
		}
		c.Metadata.Backend = dbType
		c.Metadata.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) error {
		c.Metadata.DatabaseSchema = schema
		return nil
	}
}

// WithJWTAuth verifies bearer tokens as HMAC signed JWTs
func WithJWTAuth(secret string) Option {
	return func(c *Config) error {
		if secret == "" {
			return fmt.Errorf("jwt secret cannot be empty")
		}
		c.Auth.Mode = "jwt"
		c.Auth.JWTSecret = secret
		return nil
	}
}

// WithFirebaseAuth verifies bearer tokens as Firebase ID tokens
func WithFirebaseAuth(projectID string) Option {
	return func(c *Config) error {
		if projectID == "" {
			return fmt.Errorf("firebase project id cannot be empty")
		}
		c.Auth.Mode = "firebase"
		c.Storage.GCS.ProjectID = projectID
		return nil
	}
}

// WithoutAuth accepts every request as the anonymous subject
func WithoutAuth() Option {
	return func(c *Config) error {
		c.Auth.Mode = "none"
		c.Features.OCRRequireAuth = false
		return nil
	}
}

// WithCloudVision enables the Cloud Vision annotator
func WithCloudVision(enabled bool) Option {
	return func(c *Config) error {
		if enabled {
			c.Vision.Backend = "cloud"
		} else {
			c.Vision.Backend = "noop"
		}
		return nil
	}
}

// WithSyncOCR runs text detection during upload
func WithSyncOCR(enabled bool) Option {
	return func(c *Config) error {
		c.Features.SyncOCR = enabled
		return nil
	}
}

// WithMaxUploadSize sets the request body limit as a human readable size
func WithMaxUploadSize(size string) Option {
	return func(c *Config) error {
		c.Features.MaxUploadSize = size
		return nil
	}
}

// WithCORSOrigins sets the allowed CORS origins
func WithCORSOrigins(origins ...string) Option {
	return func(c *Config) error {
		c.Server.CORSOrigins = normalizeList(origins)
		if len(c.Server.CORSOrigins) == 0 {
			return fmt.Errorf("at least one cors origin is required")
		}
		return nil
	}
}
