package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/db/models"
)

type recordedWrite struct {
	actor *audit.Actor
	rc    audit.RequestContext
	p     audit.Payload
}

// captureWriter collects writes via a buffered channel.
type captureWriter struct {
	ch  chan recordedWrite
	err error
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{ch: make(chan recordedWrite, 4)}
}

func (w *captureWriter) Write(ctx context.Context, actor *audit.Actor, rc audit.RequestContext, p audit.Payload) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("write without deadline")
	}
	w.ch <- recordedWrite{actor: actor, rc: rc, p: p}
	return "rec-1", w.err
}

// waitForWrite blocks until a write arrives or the timeout fires.
func (w *captureWriter) waitForWrite(t *testing.T) recordedWrite {
	t.Helper()
	select {
	case rw := <-w.ch:
		return rw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit write")
		return recordedWrite{}
	}
}

func (w *captureWriter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case rw := <-w.ch:
		t.Fatalf("unexpected audit write: %+v", rw.p)
	case <-time.After(50 * time.Millisecond):
	}
}

func exportPayload() audit.Payload {
	return audit.Payload{
		Action:     models.ActionCreate,
		EntityType: "audit_export",
		SummaryKey: "audit.exported",
	}
}

func newRecorderRouter(w AuditWriter, actor *audit.Actor, status int, record bool) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if actor != nil {
			c.Set(ActorKey, actor)
		}
		c.Next()
	})
	r.Use(AuditRecorder(w))
	r.GET("/export", func(c *gin.Context) {
		if record {
			RecordAudit(c, exportPayload())
		}
		c.Status(status)
	})
	return r
}

func serveExport(r http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.10, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuditRecorder_WritesAfterSuccess(t *testing.T) {
	cw := newCaptureWriter()
	actor := &audit.Actor{UserID: "u1", Role: "super_admin"}

	w := serveExport(newRecorderRouter(cw, actor, http.StatusOK, true))
	require.Equal(t, http.StatusOK, w.Code)

	rw := cw.waitForWrite(t)
	assert.Same(t, actor, rw.actor)
	assert.Equal(t, "audit_export", rw.p.EntityType)
	require.NotNil(t, rw.rc.IPAddress)
	assert.Equal(t, "192.168.1.10", *rw.rc.IPAddress)
	assert.Contains(t, rw.rc.UserAgent, "Chrome/120")
}

func TestAuditRecorder_SkipsFailedRequests(t *testing.T) {
	cw := newCaptureWriter()
	serveExport(newRecorderRouter(cw, &audit.Actor{UserID: "u1", Role: "super_admin"}, http.StatusForbidden, true))
	cw.expectNone(t)
}

func TestAuditRecorder_SkipsWhenNothingAttached(t *testing.T) {
	cw := newCaptureWriter()
	serveExport(newRecorderRouter(cw, &audit.Actor{UserID: "u1", Role: "super_admin"}, http.StatusOK, false))
	cw.expectNone(t)
}

func TestAuditRecorder_SkipsWithoutActor(t *testing.T) {
	cw := newCaptureWriter()
	serveExport(newRecorderRouter(cw, nil, http.StatusOK, true))
	cw.expectNone(t)
}

func TestAuditRecorder_WriteFailureDoesNotChangeResponse(t *testing.T) {
	cw := newCaptureWriter()
	cw.err = audit.ErrPersistence

	w := serveExport(newRecorderRouter(cw, &audit.Actor{UserID: "u1", Role: "super_admin"}, http.StatusOK, true))
	assert.Equal(t, http.StatusOK, w.Code)
	cw.waitForWrite(t)
}
