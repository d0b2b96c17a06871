package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// View selects which slice of the trail a query reads
type View string

const (
	ViewActivity     View = "activity"
	ViewLoginHistory View = "login_history"
)

// Filter narrows a trail query. DateFrom and DateTo are both required and inclusive.
type Filter struct {
	DateFrom      time.Time
	DateTo        time.Time
	BranchID      *string
	Action        *string
	EntityType    *string
	SensitiveOnly bool
	SearchTerm    string
	Page          int
	PageSize      int
}

// RecordView is a record as presented to one caller. IPAddress is only set
// for callers allowed to see raw addresses.
type RecordView struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	ActorUserID   string          `json:"actor_user_id"`
	ActorName     string          `json:"actor_name"`
	ActorRole     string          `json:"actor_role"`
	BranchID      *string         `json:"branch_id"`
	BranchName    *string         `json:"branch_name"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      *string         `json:"entity_id"`
	SummaryKey    string          `json:"summary_key"`
	SummaryParams models.Params   `json:"summary_params"`
	Summary       string          `json:"summary"`
	BeforeData    models.Document `json:"before_data"`
	AfterData     models.Document `json:"after_data"`
	Metadata      models.Document `json:"metadata"`
	IPAddress     *string         `json:"ip_address,omitempty"`
	IPMasked      *string         `json:"ip_masked"`
	UserAgent     string          `json:"user_agent"`
	DeviceName    string          `json:"device_name"`
	OSName        string          `json:"os_name"`
	BrowserName   string          `json:"browser_name"`
	IsMobile      bool            `json:"is_mobile"`
}

// Page is one page of query results
type Page struct {
	Records    []RecordView `json:"records"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}

// Reader serves scoped, filtered and paginated views of the trail
type Reader struct {
	store         RecordStore
	policy        *Policy
	templates     *TemplateRegistry
	maxPageSize   int
	maxExportRows int
}

// NewReader creates a Reader. maxPageSize bounds interactive pages and
// maxExportRows bounds a single export.
func NewReader(store RecordStore, policy *Policy, templates *TemplateRegistry, maxPageSize, maxExportRows int) *Reader {
	return &Reader{
		store:         store,
		policy:        policy,
		templates:     templates,
		maxPageSize:   maxPageSize,
		maxExportRows: maxExportRows,
	}
}

// Activity returns a page of the activity log
func (r *Reader) Activity(ctx context.Context, caller *Actor, f Filter) (*Page, error) {
	return r.Query(ctx, caller, ViewActivity, f)
}

// LoginHistory returns a page of authentication events
func (r *Reader) LoginHistory(ctx context.Context, caller *Actor, f Filter) (*Page, error) {
	return r.Query(ctx, caller, ViewLoginHistory, f)
}

// Query returns one page of view for caller
func (r *Reader) Query(ctx context.Context, caller *Actor, view View, f Filter) (*Page, error) {
	page, _, err := r.query(ctx, caller, view, f, r.maxPageSize, string(view))
	return page, err
}

// Export returns the first page of at most the configured export bound,
// together with the caller's visibility for formatting.
func (r *Reader) Export(ctx context.Context, caller *Actor, view View, f Filter) ([]RecordView, Visibility, error) {
	f.Page = 1
	f.PageSize = r.maxExportRows
	page, vis, err := r.query(ctx, caller, view, f, r.maxExportRows, "export_"+string(view))
	if err != nil {
		return nil, Visibility{}, err
	}
	return page.Records, vis, nil
}

func (r *Reader) query(ctx context.Context, caller *Actor, view View, f Filter, maxSize int, metricView string) (*Page, Visibility, error) {
	ctx, span := telemetry.StartSpan(ctx, "audit.query", attribute.String("audit.view", metricView))
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.AuditQueriesTotal.WithLabelValues(metricView).Inc()
		telemetry.AuditQueryDuration.WithLabelValues(metricView).Observe(time.Since(start).Seconds())
	}()

	if err := validateFilter(view, f, maxSize); err != nil {
		return nil, Visibility{}, err
	}

	branch, vis, err := r.policy.Scope(caller, f.BranchID)
	if err != nil {
		return nil, Visibility{}, err
	}

	empty := &Page{Records: []RecordView{}, TotalCount: 0, Page: f.Page, PageSize: f.PageSize}

	actions, all := effectiveActions(view, f)
	if !all && len(actions) == 0 {
		return empty, vis, nil
	}

	q := repositories.AuditQuery{
		From:       f.DateFrom,
		To:         f.DateTo,
		BranchID:   branch,
		EntityType: f.EntityType,
		Search:     strings.TrimSpace(f.SearchTerm),
		Limit:      f.PageSize,
		Offset:     (f.Page - 1) * f.PageSize,
	}
	if !all {
		q.Actions = actions
	}

	rows, total, err := r.store.List(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, Visibility{}, fmt.Errorf("%w: listing audit records: %v", ErrPersistence, err)
	}

	page := &Page{Records: make([]RecordView, 0, len(rows)), TotalCount: total, Page: f.Page, PageSize: f.PageSize}
	for _, row := range rows {
		page.Records = append(page.Records, r.present(row, vis))
	}
	return page, vis, nil
}

// Get returns a single record in caller's scope. Records outside the scope
// are reported as not found.
func (r *Reader) Get(ctx context.Context, caller *Actor, id string) (*RecordView, error) {
	branch, vis, err := r.policy.Scope(caller, nil)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	row, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: loading audit record: %v", ErrPersistence, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if branch != nil && (row.BranchID == nil || *row.BranchID != *branch) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	view := r.present(row, vis)
	return &view, nil
}

func (r *Reader) present(row *models.AuditRecordRow, vis Visibility) RecordView {
	name := row.ActorUserID
	if row.ActorName != nil && *row.ActorName != "" {
		name = *row.ActorName
	}
	v := RecordView{
		ID:            row.ID,
		CreatedAt:     row.CreatedAt,
		ActorUserID:   row.ActorUserID,
		ActorName:     name,
		ActorRole:     row.ActorRole,
		BranchID:      row.BranchID,
		BranchName:    row.BranchName,
		Action:        row.Action,
		EntityType:    row.EntityType,
		EntityID:      row.EntityID,
		SummaryKey:    row.SummaryKey,
		SummaryParams: row.SummaryParams,
		Summary:       r.templates.Render(row.SummaryKey, row.SummaryParams),
		BeforeData:    row.BeforeData,
		AfterData:     row.AfterData,
		Metadata:      row.Metadata,
		IPMasked:      row.IPMasked,
		UserAgent:     row.UserAgent,
		DeviceName:    row.DeviceName,
		OSName:        row.OSName,
		BrowserName:   row.BrowserName,
		IsMobile:      row.IsMobile,
	}
	if vis.RawIP {
		v.IPAddress = row.IPAddress
	}
	return v
}

func validateFilter(view View, f Filter, maxSize int) error {
	if view != ViewActivity && view != ViewLoginHistory {
		return validationError("unknown view %q", view)
	}
	if f.DateFrom.IsZero() || f.DateTo.IsZero() {
		return validationError("date_from and date_to are required")
	}
	if f.DateFrom.After(f.DateTo) {
		return validationError("date_from must not be after date_to")
	}
	if f.Page < 1 {
		return validationError("page must be at least 1")
	}
	if f.PageSize < 1 || f.PageSize > maxSize {
		return validationError("page_size must be between 1 and %d", maxSize)
	}
	if f.Action != nil && !models.IsValidAction(*f.Action) {
		return validationError("action %q is not one of %s", *f.Action, strings.Join(models.Actions, ", "))
	}
	return nil
}

// effectiveActions intersects the view's actions with the sensitive flag and
// the requested action. all is true when no action restriction applies.
func effectiveActions(view View, f Filter) (actions []string, all bool) {
	candidates := models.Actions
	all = true
	if view == ViewLoginHistory {
		candidates = models.AuthActions
		all = false
	}
	if f.SensitiveOnly {
		candidates = intersect(candidates, models.SensitiveActions)
		all = false
	}
	if f.Action != nil {
		candidates = intersect(candidates, []string{*f.Action})
		all = false
	}
	if all {
		return nil, true
	}
	return candidates, false
}

func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}
