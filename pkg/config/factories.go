package config

import (
	"context"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/backend/badgerfs"
	"github.com/mvailati/fusegate/pkg/backend/memory"
	"github.com/mvailati/fusegate/pkg/backend/s3obj"
)

// CreateBackend creates a storage backend based on configuration.
//
// The Type field determines which implementation is created; the
// type-specific option map is decoded into the backend's option struct and
// passed to its constructor.
//
// Returns the backend's capability table and a closer that releases any
// resources the backend holds (database handles, connections).
func CreateBackend(ctx context.Context, cfg *BackendConfig) (backend.Operations, io.Closer, error) {
	switch cfg.Type {
	case "memory":
		b := memory.New()
		return b.Operations(), b, nil
	case "badger":
		return createBadgerBackend(cfg.Badger)
	case "s3":
		return createS3Backend(ctx, cfg.S3)
	default:
		return backend.Operations{}, nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// createBadgerBackend creates a BadgerDB-backed filesystem backend.
func createBadgerBackend(options map[string]any) (backend.Operations, io.Closer, error) {
	var opts badgerfs.Options
	if err := mapstructure.Decode(options, &opts); err != nil {
		return backend.Operations{}, nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}

	if opts.Path == "" && !opts.InMemory {
		return backend.Operations{}, nil, fmt.Errorf("badger backend: path is required")
	}

	b, err := badgerfs.New(opts)
	if err != nil {
		return backend.Operations{}, nil, fmt.Errorf("failed to create badger backend: %w", err)
	}

	return b.Operations(), b, nil
}

// createS3Backend creates an object-store-backed filesystem backend.
func createS3Backend(ctx context.Context, options map[string]any) (backend.Operations, io.Closer, error) {
	var opts s3obj.Options
	if err := mapstructure.Decode(options, &opts); err != nil {
		return backend.Operations{}, nil, fmt.Errorf("failed to decode s3 backend config: %w", err)
	}

	if opts.Bucket == "" {
		return backend.Operations{}, nil, fmt.Errorf("s3 backend: bucket is required")
	}
	if opts.Region == "" {
		return backend.Operations{}, nil, fmt.Errorf("s3 backend: region is required")
	}

	b, err := s3obj.New(ctx, opts)
	if err != nil {
		return backend.Operations{}, nil, fmt.Errorf("failed to create s3 backend: %w", err)
	}

	return b.Operations(), b, nil
}
