// audit_repository.go implements AuditRepository, the append-only store for audit records.
// There is deliberately no update or delete path; the schema backs this with a trigger.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/academy-hub/audit-trail/internal/db/models"
)

// AuditRepository handles audit record database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditQuery selects a window of the trail. From and To are inclusive.
// A nil Actions slice means every action; an empty non-nil slice matches nothing.
type AuditQuery struct {
	From       time.Time
	To         time.Time
	BranchID   *string
	Actions    []string
	EntityType *string
	Search     string
	Limit      int
	Offset     int
}

const auditRowColumns = `
	a.id, a.created_at, a.actor_user_id, a.actor_role, a.branch_id, a.action,
	a.entity_type, a.entity_id, a.summary_key, a.summary_params,
	a.before_data, a.after_data, a.metadata,
	a.ip_address, a.ip_masked, a.user_agent, a.device_name, a.os_name, a.browser_name, a.is_mobile,
	p.display_name AS actor_name, b.name AS branch_name`

const auditRowJoins = `
	FROM audit_records a
	LEFT JOIN profiles p ON p.user_id = a.actor_user_id
	LEFT JOIN branches b ON b.id = a.branch_id`

// Append inserts one record. ID and CreatedAt must already be assigned.
func (r *AuditRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, created_at, actor_user_id, actor_role, branch_id, action,
			entity_type, entity_id, summary_key, summary_params,
			before_data, after_data, metadata,
			ip_address, ip_masked, user_agent, device_name, os_name, browser_name, is_mobile
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20
		)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.CreatedAt,
		rec.ActorUserID,
		rec.ActorRole,
		rec.BranchID,
		rec.Action,
		rec.EntityType,
		rec.EntityID,
		rec.SummaryKey,
		rec.SummaryParams,
		rec.BeforeData,
		rec.AfterData,
		rec.Metadata,
		rec.IPAddress,
		rec.IPMasked,
		rec.UserAgent,
		rec.DeviceName,
		rec.OSName,
		rec.BrowserName,
		rec.IsMobile,
	)
	return err
}

// escapeLike escapes LIKE wildcards so the search term matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func buildAuditWhere(q AuditQuery) (string, []interface{}) {
	where := ` WHERE a.created_at >= $1 AND a.created_at <= $2`
	args := []interface{}{q.From, q.To}
	paramIndex := 3

	if q.BranchID != nil {
		where += fmt.Sprintf(` AND a.branch_id = $%d`, paramIndex)
		args = append(args, *q.BranchID)
		paramIndex++
	}

	if q.Actions != nil {
		where += fmt.Sprintf(` AND a.action = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(q.Actions))
		paramIndex++
	}

	if q.EntityType != nil {
		where += fmt.Sprintf(` AND a.entity_type = $%d`, paramIndex)
		args = append(args, *q.EntityType)
		paramIndex++
	}

	if q.Search != "" {
		where += fmt.Sprintf(` AND (p.display_name ILIKE $%[1]d ESCAPE '\' OR a.summary_key ILIKE $%[1]d ESCAPE '\' OR a.entity_type ILIKE $%[1]d ESCAPE '\')`, paramIndex)
		args = append(args, "%"+escapeLike(q.Search)+"%")
	}

	return where, args
}

// List returns one page of records matching q, newest first, and the total match count
func (r *AuditRepository) List(ctx context.Context, q AuditQuery) ([]*models.AuditRecordRow, int, error) {
	where, args := buildAuditWhere(q)

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+auditRowJoins+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT` + auditRowColumns + auditRowJoins + where +
		fmt.Sprintf(` ORDER BY a.created_at DESC, a.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows := make([]*models.AuditRecordRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Get retrieves a single record by ID. Returns nil, nil when it does not exist.
func (r *AuditRepository) Get(ctx context.Context, id string) (*models.AuditRecordRow, error) {
	query := `SELECT` + auditRowColumns + auditRowJoins + ` WHERE a.id = $1`

	var row models.AuditRecordRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ActionCount is one row of CountByAction
type ActionCount struct {
	Action string    `db:"action"`
	Count  int       `db:"count"`
	Latest time.Time `db:"latest"`
}

// CountByAction summarises the trail per action, used by operational diagnostics
func (r *AuditRepository) CountByAction(ctx context.Context) ([]ActionCount, error) {
	query := `
		SELECT action, COUNT(*) AS count, MAX(created_at) AS latest
		FROM audit_records
		GROUP BY action
		ORDER BY action`

	counts := make([]ActionCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, err
	}
	return counts, nil
}
