package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/academy-hub/audit-trail/internal/auth"
	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv(auth.SecretEnvVar, "test-router-jwt-secret-32-chars!!")
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// minimal storage.Storage mock for readiness tests
// ---------------------------------------------------------------------------

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *readinessMockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *readinessMockStorage) Delete(_ context.Context, _ string) error { return nil }
func (m *readinessMockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return false, m.existsErr
}

// ---------------------------------------------------------------------------
// healthCheckHandler / readinessHandler
// ---------------------------------------------------------------------------

func newPingDB(t *testing.T, pingOK bool) *sqlx.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return sqlx.NewDb(db, "sqlmock")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v (body=%s)", err, w.Body.String())
	}
	return body
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler(newPingDB(t, true)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body := decode(t, w); body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler(newPingDB(t, false)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name    string
		pingOK  bool
		archive storage.Storage
		want    int
		check   string
	}{
		{"database down", false, nil, http.StatusServiceUnavailable, "database"},
		{"no archive configured", true, nil, http.StatusOK, "database"},
		{"archive healthy", true, &readinessMockStorage{}, http.StatusOK, "archive"},
		{"archive unreachable", true, &readinessMockStorage{existsErr: errors.New("403 forbidden")}, http.StatusServiceUnavailable, "archive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(newPingDB(t, tt.pingOK), tt.archive))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			checks, _ := decode(t, w)["checks"].(map[string]interface{})
			if _, ok := checks[tt.check]; !ok {
				t.Errorf("checks = %v, want %q entry", checks, tt.check)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	body := decode(t, w)
	if body["version"] != Version || body["api_version"] != "v1" {
		t.Errorf("unexpected body: %v", body)
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

type staticProfiles map[string]*models.Profile

func (p staticProfiles) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	return p[userID], nil
}

func strPtr(s string) *string { return &s }

func testConfig() *config.Config {
	return &config.Config{
		Audit: config.AuditConfig{
			AdminRoles:      []string{"super_admin"},
			BranchRoles:     []string{"branch_admin", "admin"},
			DefaultPageSize: 25,
			MaxPageSize:     100,
			MaxExportRows:   1000,
			SummaryTemplates: []config.SummaryTemplateConfig{
				{Key: "timetable.published", Template: "{name} published the timetable"},
			},
		},
		Security: config.SecurityConfig{
			CORS:         config.CORSConfig{AllowedOrigins: []string{"*"}},
			RateLimiting: config.RateLimitingConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10},
		},
	}
}

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	profiles := staticProfiles{
		"u-ana":   {UserID: "u-ana", DisplayName: "Ana", Role: "branch_admin", BranchID: strPtr("b-1")},
		"u-tutor": {UserID: "u-tutor", DisplayName: "Tom", Role: "teacher", BranchID: strPtr("b-1")},
	}
	router, bg := NewRouter(testConfig(), Dependencies{DB: sqlx.NewDb(db, "sqlmock"), Profiles: profiles})
	t.Cleanup(bg.Shutdown)
	return router, mock
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, userID+"@academy.test", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + token
}

func TestNewRouter_RequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/activity", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing on 401")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing on 401")
	}
}

func TestNewRouter_WriteLog(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectExec("INSERT INTO audit_records").WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/logs",
		strings.NewReader(`{"action":"delete","entityType":"student","entityId":"st-4","summaryKey":"student.deleted","summaryParams":{"name":"Cy"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "u-ana"))
	req.Header.Set("X-Forwarded-For", "192.168.1.10")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true || body["log_id"] == "" {
		t.Errorf("unexpected body: %v", body)
	}
	if w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q, want 60", w.Header().Get("X-RateLimit-Limit"))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNewRouter_RoleWithoutAccess(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/activity?date_from=2025-03-01&date_to=2025-03-31", nil)
	req.Header.Set("Authorization", bearer(t, "u-tutor"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestNewRouter_UnknownProfile(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/templates", nil)
	req.Header.Set("Authorization", bearer(t, "u-ghost"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_ConfiguredTemplates(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/templates", nil)
	req.Header.Set("Authorization", bearer(t, "u-ana"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"timetable.published"`) {
		t.Errorf("configured template missing from %s", w.Body.String())
	}
}
