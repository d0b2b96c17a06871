package auditclient

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Success(t *testing.T) {
	var gotAuth, gotUA, gotXFF string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/audit/logs", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotXFF = r.Header.Get("X-Forwarded-For")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"success":true,"log_id":"rec-7"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	id, err := c.Record(context.Background(), "tok", Origin{UserAgent: "Mozilla/5.0 (iPad)", ClientIP: "10.1.2.3"}, Payload{
		Action:        "update",
		EntityType:    "student",
		EntityID:      "st-1",
		SummaryKey:    "student.updated",
		SummaryParams: map[string]interface{}{"name": "Cy"},
		BeforeData:    json.RawMessage(`{"grade":4}`),
	})

	require.NoError(t, err)
	assert.Equal(t, "rec-7", id)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "Mozilla/5.0 (iPad)", gotUA)
	assert.Equal(t, "10.1.2.3", gotXFF)
	assert.Equal(t, "update", gotBody["action"])
	assert.Equal(t, "st-1", gotBody["entityId"])
	assert.Equal(t, map[string]interface{}{"grade": float64(4)}, gotBody["beforeData"])
	_, hasBranch := gotBody["branchId"]
	assert.False(t, hasBranch)
}

func TestRecord_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadRequest, ErrValidation},
		{http.StatusNotFound, ErrProfileNotFound},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusTooManyRequests, ErrServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Record(context.Background(), "tok", Origin{}, Payload{Action: "create"})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestRecord_MalformedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Record(context.Background(), "tok", Origin{}, Payload{Action: "create"})
	assert.ErrorIs(t, err, ErrServer)
}

func TestRecordBestEffort_LogsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // connection refused

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	New(srv.URL).RecordBestEffort(context.Background(), "tok", Origin{}, Payload{Action: "delete", EntityType: "payment", SummaryKey: "payment.deleted"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "payment.deleted", entry["summary_key"])
	assert.NotEmpty(t, entry["error"])
}

func TestOriginFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "curl/8")
	r.Header.Set("CF-Connecting-IP", "203.0.113.9")
	r.Header.Set("X-Real-IP", "10.0.0.1")

	o := OriginFromRequest(r)
	assert.Equal(t, Origin{UserAgent: "curl/8", ClientIP: "203.0.113.9"}, o)

	r.Header.Set("X-Forwarded-For", " 198.51.100.2 , 10.0.0.9")
	assert.Equal(t, "198.51.100.2", OriginFromRequest(r).ClientIP)
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{}
	c := New("http://audit.local", WithHTTPClient(hc))
	assert.Same(t, hc, c.httpClient)

	c = New("http://audit.local", WithTimeout(0))
	assert.Zero(t, c.httpClient.Timeout)
}
