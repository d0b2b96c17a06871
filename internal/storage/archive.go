package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Archiver stores exported files under <prefix>/<branch|all>/<timestamp>_<filename>
type Archiver struct {
	store  Storage
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing to store under prefix
func NewArchiver(store Storage, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// ObjectPath returns the path an export for branchID would be archived under at t
func (a *Archiver) ObjectPath(branchID *string, filename string, t time.Time) string {
	scope := "all"
	if branchID != nil && *branchID != "" {
		scope = sanitizeSegment(*branchID)
	}
	name := t.UTC().Format("20060102T150405Z") + "_" + sanitizeSegment(filename)
	if a.prefix == "" {
		return path.Join(scope, name)
	}
	return path.Join(a.prefix, scope, name)
}

// Archive uploads data and returns where it was stored with its checksum
func (a *Archiver) Archive(ctx context.Context, branchID *string, filename string, data []byte) (*UploadResult, error) {
	p := a.ObjectPath(branchID, filename, a.now())
	res, err := a.store.Upload(ctx, p, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", p, err)
	}
	return res, nil
}

// sanitizeSegment keeps a value from escaping its path segment
func sanitizeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}
