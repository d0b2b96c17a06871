// Package auditlog implements the HTTP handlers for writing to and reading from
// the audit trail: the write endpoint, the Activity Log and Login History
// views, single-record lookup, CSV export and the template catalogue.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/middleware"
	"github.com/academy-hub/audit-trail/internal/storage"
	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// RecordWriter appends one record on behalf of an actor
type RecordWriter interface {
	Write(ctx context.Context, actor *audit.Actor, rc audit.RequestContext, p audit.Payload) (string, error)
}

// RecordReader serves scoped views of the trail
type RecordReader interface {
	Query(ctx context.Context, caller *audit.Actor, view audit.View, f audit.Filter) (*audit.Page, error)
	Export(ctx context.Context, caller *audit.Actor, view audit.View, f audit.Filter) ([]audit.RecordView, audit.Visibility, error)
	Get(ctx context.Context, caller *audit.Actor, id string) (*audit.RecordView, error)
}

// Handler handles audit trail API requests
type Handler struct {
	writer          RecordWriter
	reader          RecordReader
	templates       *audit.TemplateRegistry
	defaultPageSize int

	archiver       *storage.Archiver
	archiveBackend string
}

// HandlerOption customises a Handler
type HandlerOption func(*Handler)

// WithArchiver enables ?archive=true on the export endpoints
func WithArchiver(a *storage.Archiver, backend string) HandlerOption {
	return func(h *Handler) {
		h.archiver = a
		h.archiveBackend = backend
	}
}

// NewHandler creates a new audit trail handler
func NewHandler(writer RecordWriter, reader RecordReader, templates *audit.TemplateRegistry, defaultPageSize int, opts ...HandlerOption) *Handler {
	if defaultPageSize < 1 {
		defaultPageSize = 25
	}
	h := &Handler{
		writer:          writer,
		reader:          reader,
		templates:       templates,
		defaultPageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// @Summary      Write audit record
// @Description  Appends one record describing a mutating action that has already succeeded.
// @Tags         Audit
// @Accept       json
// @Produce      json
// @Param        payload  body  audit.Payload  true  "Audited action"
// @Success      200  {object}  map[string]interface{}  "success: true, log_id"
// @Failure      400  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/audit/logs [post]
// WriteLog handles POST /api/v1/audit/logs
func (h *Handler) WriteLog(c *gin.Context) {
	var payload audit.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	id, err := h.writer.Write(c.Request.Context(), middleware.GetActor(c), audit.CaptureRequest(c.Request), payload)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"log_id":  id,
	})
}

// @Summary      Activity log
// @Description  Returns one page of the activity log in the caller's scope, newest first.
// @Tags         Audit
// @Produce      json
// @Param        date_from       query  string  true   "Start date (YYYY-MM-DD or RFC3339)"
// @Param        date_to         query  string  true   "End date, inclusive"
// @Param        branch_id       query  string  false  "Branch filter (ignored for branch-scoped roles)"
// @Param        action          query  string  false  "Action filter"
// @Param        entity_type     query  string  false  "Entity type filter"
// @Param        sensitive_only  query  bool    false  "Only deletions and resets"
// @Param        search          query  string  false  "Search term"
// @Param        page            query  int     false  "Page number (default 1)"
// @Param        page_size       query  int     false  "Page size"
// @Success      200  {object}  audit.Page
// @Failure      400  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Router       /api/v1/audit/activity [get]
// ListActivity handles GET /api/v1/audit/activity
func (h *Handler) ListActivity(c *gin.Context) {
	h.list(c, audit.ViewActivity)
}

// ListLogins handles GET /api/v1/audit/logins
func (h *Handler) ListLogins(c *gin.Context) {
	h.list(c, audit.ViewLoginHistory)
}

func (h *Handler) list(c *gin.Context, view audit.View) {
	f, err := h.parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.reader.Query(c.Request.Context(), middleware.GetActor(c), view, f)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetLog handles GET /api/v1/audit/logs/:id
func (h *Handler) GetLog(c *gin.Context) {
	rec, err := h.reader.Get(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// @Summary      Export activity log
// @Description  Downloads the filtered activity log as CSV. With archive=true the file is also stored in the archive backend.
// @Tags         Audit
// @Produce      text/csv
// @Param        archive  query  bool  false  "Also archive the export"
// @Success      200  {file}  file
// @Router       /api/v1/audit/activity/export [get]
// ExportActivity handles GET /api/v1/audit/activity/export
func (h *Handler) ExportActivity(c *gin.Context) {
	h.export(c, audit.ViewActivity)
}

// ExportLogins handles GET /api/v1/audit/logins/export
func (h *Handler) ExportLogins(c *gin.Context) {
	h.export(c, audit.ViewLoginHistory)
}

func (h *Handler) export(c *gin.Context, view audit.View) {
	f, err := h.parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	archive := c.Query("archive") == "true"
	if archive && h.archiver == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Export archiving is not enabled"})
		return
	}

	caller := middleware.GetActor(c)
	records, vis, err := h.reader.Export(c.Request.Context(), caller, view, f)
	if err != nil {
		respondError(c, err)
		return
	}

	data := audit.FormatCSV(records, audit.ColumnsFor(view), vis)
	filename := audit.ExportFilename(view, f.DateFrom, f.DateTo)

	metadata := gin.H{"filename": filename, "rows": len(records)}
	if archive {
		scope := f.BranchID
		if !vis.AllBranches {
			scope = caller.BranchID
		}
		res, err := h.archiver.Archive(c.Request.Context(), scope, filename, data)
		if err != nil {
			telemetry.ExportArchivesTotal.WithLabelValues(h.archiveBackend, "failure").Inc()
			slog.Error("failed to archive export", "filename", filename, "backend", h.archiveBackend, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive export"})
			return
		}
		telemetry.ExportArchivesTotal.WithLabelValues(h.archiveBackend, "success").Inc()
		c.Header("X-Archive-Path", res.Path)
		c.Header("X-Archive-SHA256", res.Checksum)
		metadata["archive_path"] = res.Path
	}

	recordExport(c, caller, view, len(records), metadata)

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// recordExport attaches an audit.exported record for the AuditRecorder middleware
func recordExport(c *gin.Context, caller *audit.Actor, view audit.View, rows int, metadata gin.H) {
	name := caller.DisplayName
	if name == "" {
		name = caller.UserID
	}
	params, _ := json.Marshal(map[string]interface{}{
		"name": name,
		"rows": rows,
		"view": strings.ReplaceAll(string(view), "_", " "),
	})
	meta, _ := json.Marshal(metadata)

	middleware.RecordAudit(c, audit.Payload{
		Action:        "create",
		EntityType:    "audit_export",
		SummaryKey:    "audit.exported",
		SummaryParams: params,
		Metadata:      meta,
	})
}

// ListTemplates handles GET /api/v1/audit/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.templates.Entries()})
}

// parseFilter reads the shared query parameters of the list and export endpoints.
// A date-only date_to covers the whole day.
func (h *Handler) parseFilter(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		SearchTerm: c.Query("search"),
		Page:       1,
		PageSize:   h.defaultPageSize,
	}

	var err error
	if f.DateFrom, err = parseDate(c.Query("date_from"), false); err != nil {
		return f, fmt.Errorf("%w: date_from: %v", audit.ErrValidation, err)
	}
	if f.DateTo, err = parseDate(c.Query("date_to"), true); err != nil {
		return f, fmt.Errorf("%w: date_to: %v", audit.ErrValidation, err)
	}

	f.BranchID = optionalQuery(c, "branch_id")
	f.Action = optionalQuery(c, "action")
	f.EntityType = optionalQuery(c, "entity_type")

	if v := c.Query("sensitive_only"); v != "" {
		if f.SensitiveOnly, err = strconv.ParseBool(v); err != nil {
			return f, fmt.Errorf("%w: sensitive_only must be a boolean", audit.ErrValidation)
		}
	}
	if v := c.Query("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("%w: page must be an integer", audit.ErrValidation)
		}
	}
	if v := c.Query("page_size"); v != "" {
		if f.PageSize, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("%w: page_size must be an integer", audit.ErrValidation)
		}
	}

	return f, nil
}

func optionalQuery(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

// parseDate accepts YYYY-MM-DD or RFC3339. An empty value yields the zero time,
// which the reader rejects as missing.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// respondError maps the audit error taxonomy onto HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, audit.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, audit.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have access to the audit trail"})
	case errors.Is(err, audit.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, audit.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
	case errors.Is(err, audit.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
	default:
		slog.Error("audit trail request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
