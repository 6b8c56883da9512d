// Package blob selects the blob.Store backend holding photo payloads.
// Packages outside internal/blob depend on this package and core, never on
// the infra implementations directly.
package blob

import (
	"context"
	"fmt"

	"petri/internal/blob/core"
	blobfs "petri/internal/infra/blob/fs"
	blobmem "petri/internal/infra/blob/memory"
	blobs3 "petri/internal/infra/blob/s3"
)

type (
	Store            = core.Store
	Driver           = core.Driver
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotExist    = core.ErrNotExist
	ErrExists      = core.ErrExists
)

// Config selects and parameterises a blob backend.
type Config struct {
	Driver      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3AccessKey string
	S3SecretKey string
}

// Open builds the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return blobfs.New(cfg.FSRoot)
	case DriverS3:
		return blobs3.New(ctx, blobs3.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
	case DriverMemory:
		return blobmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return blobmem.New() }
