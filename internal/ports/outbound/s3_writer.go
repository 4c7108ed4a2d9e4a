package outbound

import (
	"context"
	"io"
)

// S3Writer defines the interface for writing archive objects.
type S3Writer interface {
	// WriteFileIfNotExists writes content to key unless an object is already there.
	// written is false when the key existed.
	WriteFileIfNotExists(ctx context.Context, bucket, key string, content io.Reader, compressGzip bool) (written bool, err error)

	// FileExists checks if a file already exists at the given key.
	FileExists(ctx context.Context, bucket, key string) (bool, error)
}
