package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/noah-isme/account-api/pkg/config"
)

const (
	EngineLocal = "local"
	EngineS3    = "s3"
)

// Object describes a file to persist.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

// Storage persists uploaded files and maps them to public URLs.
type Storage interface {
	Put(ctx context.Context, obj Object) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyFromURL reports whether url points into this storage and, if so,
	// which key it addresses.
	KeyFromURL(url string) (string, bool)
}

// New builds the storage engine selected by UPLOAD_ENGINE.
func New(ctx context.Context, upload config.UploadConfig, s3cfg config.S3Config) (Storage, error) {
	switch upload.Engine {
	case "", EngineLocal:
		return NewLocalStorage(upload.Dir, upload.PublicPath)
	case EngineS3:
		return NewS3Storage(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown upload engine %q", upload.Engine)
	}
}
