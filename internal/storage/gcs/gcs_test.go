package gcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appconfig "github.com/academy-hub/audit-trail/internal/config"
)

// ---------------------------------------------------------------------------
// New(): constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSArchiveConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	_, err := New(&appconfig.GCSArchiveConfig{Bucket: "archive", AuthMethod: "service_account"})
	if err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	_, err := New(&appconfig.GCSArchiveConfig{Bucket: "archive", AuthMethod: "not-a-valid-method"})
	if err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

// newEmulatedStorage points the client at a fake JSON API that knows one object.
func newEmulatedStorage(t *testing.T) *GCSStorage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/o/present.csv") {
			w.Write([]byte(`{"bucket":"archive","name":"present.csv","size":"3"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.GCSArchiveConfig{
		Bucket:     "archive",
		AuthMethod: "none",
		Endpoint:   srv.URL + "/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExists_AgainstEmulator(t *testing.T) {
	s := newEmulatedStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "present.csv")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.Exists(ctx, "absent.csv")
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v; want false, nil", ok, err)
	}
}
