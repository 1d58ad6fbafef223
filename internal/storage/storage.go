// Package storage provides the scratch space of a show run and its remote
// object store: temporary files for intermediate audio, S3 objects used as
// clip sources, and archive uploads of finished episodes.
package storage

import (
	"context"
	"io"
)

// Storage defines temporary and remote file storage.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// FetchFromS3 opens an object of the configured bucket.
	// Returns ErrS3NotConfigured if S3 is not configured.
	FetchFromS3(ctx context.Context, key string) (io.ReadCloser, error)

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
