// Package blobx is a small blob storage abstraction used for store snapshots
// taken before destructive repairs. Snapshots are write-once: a key is never
// overwritten.
package blobx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs" // local directory (default)
	DriverS3         Driver = "s3" // S3 / MinIO compatible
)

// ErrExists reports a Put against a key that already holds a blob.
var ErrExists = errors.New("blobx: key already exists")

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("blobx: not found")

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	Metadata     map[string]string
	LastModified time.Time
}

// Store is the backend contract. Put is create-only.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Config selects and configures a backend.
type Config struct {
	Driver Driver

	// Filesystem driver.
	Dir string

	// S3 driver.
	Bucket          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string // optional, default credentials chain otherwise
	SecretAccessKey string
	PathStyle       bool
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("blobx: unknown driver %q", cfg.Driver)
	}
}
