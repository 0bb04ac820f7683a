// Package diagstore keeps raw submission payloads that could not be classified so
// they can be inspected after a run.
package diagstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Driver identifies a storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// PutOptions carries optional object attributes.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store persists a payload and returns a reference a human can follow
// (a file path, an s3:// URI, or a memory:// key).
type Store interface {
	Put(ctx context.Context, data []byte, opts PutOptions) (ref string, err error)
	Driver() Driver
}

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	Dir    string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string
}

// Open builds the configured store. An empty driver means the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown diagnostic store driver %q", cfg.Driver)
	}
}

// newKey names a payload by capture time plus a short random suffix so two dumps in
// the same second never collide.
func newKey(now time.Time) string {
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("submit_resp_%s_%s.bin", now.Format("20060102_150405"), id)
}
