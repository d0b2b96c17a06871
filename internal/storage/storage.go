// Package storage defines the Storage interface used to archive exported audit
// files, the registry of backends, and the Archiver that names archived objects.
//
// Backends register themselves from an init() function in their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
//	        return New(&cfg.MyBackend)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

// ErrNotFound is returned by Download when no object exists at the path
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for all archive backends
type Storage interface {
	// Upload stores an object and returns its path, size and SHA-256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// ContentType guesses the MIME type cloud backends store with an object
func ContentType(p string) string {
	switch path.Ext(p) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
