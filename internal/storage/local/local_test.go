package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/storage"
)

// newTestStorage creates a LocalStorage backed by a temporary directory.
func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalArchiveConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalArchiveConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_RequiresBasePath(t *testing.T) {
	if _, err := New(&config.LocalArchiveConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base path")
	}
}

func TestUploadDownload(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	content := "\"Date/Time\",\"User\"\n"
	result, err := s.Upload(ctx, "exports/b-1/20250301T000000Z_activity.csv", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Path != "exports/b-1/20250301T000000Z_activity.csv" {
		t.Errorf("Path = %q", result.Path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}

	rc, err := s.Download(ctx, result.Path)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != content {
		t.Errorf("Download() = %q, want %q", got, content)
	}
}

func TestUpload_LeavesNoTempFiles(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Upload(context.Background(), "x/y.csv", strings.NewReader("a"), 1); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(s.basePath, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "y.csv" {
		t.Errorf("directory contents = %v, want only y.csv", entries)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestUpload_ReadErrorCleansUp(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Upload(context.Background(), "x/broken.csv", failingReader{}, 10); err == nil {
		t.Fatal("Upload() = nil error, want read error")
	}
	if ok, _ := s.Exists(context.Background(), "x/broken.csv"); ok {
		t.Error("partial upload left an object behind")
	}
	entries, _ := os.ReadDir(filepath.Join(s.basePath, "x"))
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "../escape.csv", strings.NewReader("x"), 1); err == nil {
		t.Error("Upload() accepted a path outside the archive directory")
	}
	if _, err := s.Download(ctx, "../../etc/passwd"); err == nil {
		t.Error("Download() accepted a path outside the archive directory")
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Download(context.Background(), "missing.csv")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestExistsAndDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "exports/all/a.csv", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Exists(ctx, "exports/all/a.csv")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true, nil", ok, err)
	}

	if err := s.Delete(ctx, "exports/all/a.csv"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "exports/all/a.csv"); ok {
		t.Error("object still exists after Delete()")
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "exports")); !os.IsNotExist(err) {
		t.Error("empty parent directories were not pruned")
	}
	if err := s.Delete(ctx, "exports/all/a.csv"); err != nil {
		t.Errorf("Delete() of missing object = %v, want nil", err)
	}
}

func TestRegisteredWithFactory(t *testing.T) {
	s, err := storage.NewStorage(&config.ArchiveConfig{
		Backend: "local",
		Local:   config.LocalArchiveConfig{BasePath: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Errorf("NewStorage() = %T, want *LocalStorage", s)
	}
}
