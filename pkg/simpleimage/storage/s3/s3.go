package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Scheme prefixes object URIs of this backend
const Scheme = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // Default bucket, used by CreateBucketIfNotExist
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// SigningRoleARN, when set, is assumed through STS for every signed URL
	// so download URLs carry short-lived credentials of that role only.
	SigningRoleARN string

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simpleimage.ObjectStore interface
type Backend struct {
	client    *s3.Client
	awsCfg    aws.Config
	s3Options []func(*s3.Options)
	config    Config
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	backend := &Backend{
		client:    s3.NewFromConfig(awsCfg, s3Options...),
		awsCfg:    awsCfg,
		s3Options: s3Options,
		config:    config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// createBucketIfNotExists creates the default bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.config.Bucket),
	})
	if err == nil {
		return nil
	}

	var noSuchBucket *types.NoSuchBucket
	if !isNotFound(err) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.config.Bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var exists *types.BucketAlreadyExists
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &exists) || errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// Put uploads an object with its user metadata
func (b *Backend) Put(ctx context.Context, obj simpleimage.PutObject) error {
	uploader := manager.NewUploader(b.client)

	input := &s3.PutObjectInput{
		Bucket:   aws.String(obj.Container),
		Key:      aws.String(obj.Path),
		Body:     obj.Body,
		Metadata: obj.Metadata,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	b.applySSE(input)

	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// Get downloads an object
func (b *Backend) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, simpleimage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

// Stat reads object attributes with HeadObject. S3 returns user metadata
// keys lowercased.
func (b *Backend) Stat(ctx context.Context, container, path string) (*simpleimage.ObjectAttrs, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, simpleimage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	attrs := &simpleimage.ObjectAttrs{
		Container:   container,
		Path:        path,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		Metadata:    make(map[string]string, len(result.Metadata)),
	}
	for k, v := range result.Metadata {
		attrs.Metadata[k] = v
	}
	if result.LastModified != nil {
		attrs.Updated = result.LastModified.UTC()
		attrs.Created = attrs.Updated
	}
	return attrs, nil
}

// Exists reports whether an object exists
func (b *Backend) Exists(ctx context.Context, container, path string) (bool, error) {
	_, err := b.Stat(ctx, container, path)
	if errors.Is(err, simpleimage.ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes an object. S3 does not report deletes of missing keys, so
// existence is checked first.
func (b *Backend) Delete(ctx context.Context, container, path string) error {
	exists, err := b.Exists(ctx, container, path)
	if err != nil {
		return err
	}
	if !exists {
		return simpleimage.ErrObjectNotFound
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// SignedURL presigns a GET request valid for ttl
func (b *Backend) SignedURL(ctx context.Context, container, path string, ttl time.Duration) (string, error) {
	result, err := b.presignClient().PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(container),
		Key:                        aws.String(path),
		ResponseContentDisposition: aws.String("inline"),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return result.URL, nil
}

// presignClient returns a presigner. With a signing role, a fresh
// assume-role provider is built per call and nothing is cached.
func (b *Backend) presignClient() *s3.PresignClient {
	if b.config.SigningRoleARN == "" {
		return s3.NewPresignClient(b.client)
	}
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(b.awsCfg), b.config.SigningRoleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "simple-image-signer"
		})
	opts := append([]func(*s3.Options){}, b.s3Options...)
	opts = append(opts, func(o *s3.Options) {
		o.Credentials = provider
	})
	return s3.NewPresignClient(s3.NewFromConfig(b.awsCfg, opts...))
}

// URI returns s3://container/path
func (b *Backend) URI(container, path string) string {
	return Scheme + "://" + container + "/" + path
}

// Ping checks that the default bucket is reachable
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.config.Bucket)})
	return err
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
