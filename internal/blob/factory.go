package blob

import (
	"context"
	"fmt"

	fsstore "unitofwork/internal/infra/blob/fs"
	memorystore "unitofwork/internal/infra/blob/memory"
	s3store "unitofwork/internal/infra/blob/s3"
)

// S3Config re-exports the S3 construction parameters.
type S3Config = s3store.Config

// Config selects and parameterises a blob backend.
type Config struct {
	Driver Driver
	// FSRoot is the directory used by the filesystem driver.
	FSRoot string
	S3     S3Config
}

// Open builds the Store named by cfg.Driver. An empty driver selects the
// filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMockS3ForTests returns an S3 store served by an in-process fake, for
// packages that must not import the infra layer directly.
func NewMockS3ForTests() Store {
	return s3store.NewMockForTests()
}
