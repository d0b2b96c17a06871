// audit.go provides Gin middleware that appends an audit record for the mutation a
// handler performed, without ever delaying or failing the handler's response.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/safego"
)

// AuditEventKey is the gin.Context key holding the audit.Payload a handler asked to record
const AuditEventKey = "audit_event"

const auditWriteTimeout = 5 * time.Second

// AuditWriter appends records to the trail
type AuditWriter interface {
	Write(ctx context.Context, actor *audit.Actor, rc audit.RequestContext, p audit.Payload) (string, error)
}

// RecordAudit asks AuditRecorder to append p once the handler has finished successfully.
func RecordAudit(c *gin.Context, p audit.Payload) {
	c.Set(AuditEventKey, p)
}

// AuditRecorder appends the payload attached with RecordAudit when the handler
// completes below 400. The write happens in the background with its own timeout;
// failures are logged and never change the response.
func AuditRecorder(w AuditWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}
		v, exists := c.Get(AuditEventKey)
		if !exists {
			return
		}
		p, ok := v.(audit.Payload)
		if !ok {
			return
		}

		actor := GetActor(c)
		if actor == nil {
			slog.Warn("audit event without an authenticated actor dropped",
				"action", p.Action, "entity_type", p.EntityType, "request_id", GetRequestID(c))
			return
		}

		rc := audit.CaptureRequest(c.Request)
		requestID := GetRequestID(c)
		parent := context.WithoutCancel(c.Request.Context())

		safego.Go("record-audit-event", func() {
			ctx, cancel := context.WithTimeout(parent, auditWriteTimeout)
			defer cancel()

			if _, err := w.Write(ctx, actor, rc, p); err != nil {
				slog.Warn("failed to record audit event",
					"action", p.Action,
					"entity_type", p.EntityType,
					"user_id", actor.UserID,
					"request_id", requestID,
					"error", err)
			}
		})
	}
}
