// Package s3obj implements a filesystem backend over an S3-compatible
// object store.
//
// Objects mirror the tree: a file at /docs/report.pdf is the object
// "docs/report.pdf" under the configured key prefix, and a directory is a
// zero-byte marker object with a trailing slash. The layout keeps the
// bucket human readable and lets an existing bucket be mounted as is.
//
// Object stores have no random access, so writes are read-modify-write of
// the whole object and last write wins for concurrent writers of one key.
package s3obj

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
)

// Options configures the object-store backend.
type Options struct {
	// Region is the bucket region. Required.
	Region string `mapstructure:"region"`

	// Bucket is the bucket name. Required; the bucket must exist.
	Bucket string `mapstructure:"bucket"`

	// KeyPrefix is prepended to every object key, for mounting a subtree
	// of a shared bucket.
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint overrides the AWS endpoint, for MinIO, Localstack and
	// other S3-compatible stores. Path-style addressing is forced when
	// set.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials; when
	// empty the default credential chain applies.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries bounds retry attempts for transient failures. Zero
	// selects a generous default.
	MaxRetries int `mapstructure:"max_retries"`
}

// Store is a filesystem backend over one bucket.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New builds the S3 client and verifies bucket access.
func New(ctx context.Context, opts Options) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	if opts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", opts.Bucket, err)
	}

	prefix := opts.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	logger.Debug("s3obj: mounted bucket %q prefix %q", opts.Bucket, prefix)
	return &Store{client: client, bucket: opts.Bucket, keyPrefix: prefix}, nil
}

// Close releases nothing; the SDK client holds no long-lived resources.
func (s *Store) Close() error {
	return nil
}

// Operations returns the backend capability table.
//
// The object model has no permissions, timestamps, links, devices or
// extended attributes, so Chmod, Chown, Utimens, Link, Symlink, Mknod and
// the xattr family are absent; create requests route through the present
// Create. Locking is arbitrated by the dispatch layer.
func (s *Store) Operations() backend.Operations {
	return backend.Operations{
		Getattr:  s.Getattr,
		Mkdir:    s.Mkdir,
		Unlink:   s.Unlink,
		Rmdir:    s.Rmdir,
		Rename:   s.Rename,
		Truncate: s.Truncate,
		Open:     s.Open,
		Create:   s.Create,
		Read:     s.Read,
		Write:    s.Write,
		Statfs:   s.Statfs,
		Release:  s.Release,
		Readdir:  s.Readdir,
	}
}

// fileKey maps a path to its object key.
func (s *Store) fileKey(p string) string {
	return s.keyPrefix + strings.Trim(p, "/")
}

// dirKey maps a path to its directory marker key. The root needs no
// marker.
func (s *Store) dirKey(p string) string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return s.keyPrefix
	}
	return s.keyPrefix + trimmed + "/"
}

func isRoot(p string) bool {
	return strings.Trim(p, "/") == ""
}

// mapErr translates SDK failures onto the error taxonomy.
func mapErr(err error, p string) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return backend.NewError(backend.ErrNotFound, p)
	}
	return &backend.Error{Code: backend.ErrIOError, Message: err.Error(), Path: p}
}
