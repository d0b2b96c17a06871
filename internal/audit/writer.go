package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
	"github.com/academy-hub/audit-trail/internal/safego"
	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// RecordStore is the durable, append-only home of the trail
type RecordStore interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	List(ctx context.Context, q repositories.AuditQuery) ([]*models.AuditRecordRow, int, error)
	Get(ctx context.Context, id string) (*models.AuditRecordRow, error)
}

// Payload describes one audited action as reported by the caller
type Payload struct {
	Action        string          `json:"action"`
	EntityType    string          `json:"entityType"`
	EntityID      *string         `json:"entityId,omitempty"`
	SummaryKey    string          `json:"summaryKey"`
	SummaryParams json.RawMessage `json:"summaryParams,omitempty"`
	BeforeData    models.Document `json:"beforeData,omitempty"`
	AfterData     models.Document `json:"afterData,omitempty"`
	Metadata      models.Document `json:"metadata,omitempty"`
	BranchID      *string         `json:"branchId,omitempty"`
}

// shipTimeout bounds a single best-effort delivery to the external shippers
const shipTimeout = 10 * time.Second

// Writer appends enriched records to the trail. It never reads prior history
// and never retries a failed append.
type Writer struct {
	store     RecordStore
	shipper   Shipper
	templates *TemplateRegistry
	clock     *monotonicClock
	newID     func() string
}

// WriterOption customises a Writer
type WriterOption func(*Writer)

// WithShipper forwards every appended record to s on a background goroutine
func WithShipper(s Shipper) WriterOption {
	return func(w *Writer) { w.shipper = s }
}

// WithTemplates renders the summary carried by shipped entries
func WithTemplates(t *TemplateRegistry) WriterOption {
	return func(w *Writer) { w.templates = t }
}

// WithClock replaces the wall clock feeding record timestamps
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.clock.now = now }
}

// WithIDGenerator replaces the record id generator
func WithIDGenerator(fn func() string) WriterOption {
	return func(w *Writer) { w.newID = fn }
}

// NewWriter creates a Writer over store
func NewWriter(store RecordStore, opts ...WriterOption) *Writer {
	w := &Writer{
		store:     store,
		templates: NewTemplateRegistry(),
		clock:     &monotonicClock{now: time.Now},
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write validates p, enriches it with device and network context and appends
// exactly one record. It returns the new record id.
func (w *Writer) Write(ctx context.Context, actor *Actor, rc RequestContext, p Payload) (string, error) {
	if actor == nil || actor.UserID == "" {
		telemetry.AuditWriteFailuresTotal.WithLabelValues("unauthorized").Inc()
		return "", fmt.Errorf("%w: no authenticated actor", ErrUnauthorized)
	}
	if actor.Role == "" {
		telemetry.AuditWriteFailuresTotal.WithLabelValues("profile_not_found").Inc()
		return "", fmt.Errorf("%w: actor %s has no role", ErrProfileNotFound, actor.UserID)
	}

	params, err := validatePayload(&p)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.WithLabelValues("validation").Inc()
		return "", err
	}

	branch := p.BranchID
	if branch == nil {
		branch = actor.BranchID
	}

	ua := strings.TrimSpace(rc.UserAgent)
	if ua == "" {
		ua = UnknownUserAgent
	}
	device := ParseUserAgent(rc.UserAgent)

	rec := &models.AuditRecord{
		ID:            w.newID(),
		CreatedAt:     w.clock.Next(),
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		BranchID:      copyString(branch),
		Action:        p.Action,
		EntityType:    p.EntityType,
		EntityID:      copyString(p.EntityID),
		SummaryKey:    p.SummaryKey,
		SummaryParams: params,
		BeforeData:    copyDocument(p.BeforeData),
		AfterData:     copyDocument(p.AfterData),
		Metadata:      copyDocument(p.Metadata),
		IPAddress:     copyString(rc.IPAddress),
		IPMasked:      MaskIP(rc.IPAddress),
		UserAgent:     ua,
		DeviceName:    device.DeviceName,
		OSName:        device.OSName,
		BrowserName:   device.BrowserName,
		IsMobile:      device.IsMobile,
	}

	if err := w.store.Append(ctx, rec); err != nil {
		telemetry.AuditWriteFailuresTotal.WithLabelValues("persistence").Inc()
		return "", fmt.Errorf("%w: appending audit record: %v", ErrPersistence, err)
	}
	telemetry.AuditRecordsWrittenTotal.WithLabelValues(rec.Action).Inc()

	w.ship(rec)
	return rec.ID, nil
}

func (w *Writer) ship(rec *models.AuditRecord) {
	if w.shipper == nil {
		return
	}
	entry := NewLogEntry(rec, w.templates.Render(rec.SummaryKey, rec.SummaryParams))
	safego.Go("ship-audit-record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		if err := w.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit record", "record_id", entry.RecordID, "error", err)
		}
	})
}

func validatePayload(p *Payload) (models.Params, error) {
	if !models.IsValidAction(p.Action) {
		return nil, validationError("action %q is not one of %s", p.Action, strings.Join(models.Actions, ", "))
	}
	if strings.TrimSpace(p.EntityType) == "" {
		return nil, validationError("entityType is required")
	}
	if strings.TrimSpace(p.SummaryKey) == "" {
		return nil, validationError("summaryKey is required")
	}

	for name, doc := range map[string]models.Document{
		"beforeData": p.BeforeData,
		"afterData":  p.AfterData,
		"metadata":   p.Metadata,
	} {
		if !doc.IsNull() && !json.Valid(doc) {
			return nil, validationError("%s is not valid JSON", name)
		}
	}

	params := models.Params{}
	raw := bytes.TrimSpace(p.SummaryParams)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := params.UnmarshalJSON(raw); err != nil {
			return nil, validationError("summaryParams must be a JSON object")
		}
		if params == nil {
			params = models.Params{}
		}
	}
	return params, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyDocument(d models.Document) models.Document {
	if d.IsNull() {
		return nil
	}
	return append(models.Document(nil), d...)
}

// monotonicClock hands out strictly increasing microsecond timestamps, so
// records from one writer never tie or run backwards even if the wall clock does.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// Next returns the next timestamp
func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
