package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
)

// memStore is an in-memory RecordStore applying the same filters and
// ordering as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	records   []*models.AuditRecord
	names     map[string]string // user id -> display name
	branches  map[string]string // branch id -> name
	appendErr error
	listErr   error
	lastQuery *repositories.AuditQuery
	listCalls int
}

func newMemStore() *memStore {
	return &memStore{names: map[string]string{}, branches: map[string]string{}}
}

func (m *memStore) Append(_ context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) row(rec *models.AuditRecord) *models.AuditRecordRow {
	row := &models.AuditRecordRow{AuditRecord: *rec}
	if n, ok := m.names[rec.ActorUserID]; ok {
		row.ActorName = &n
	}
	if rec.BranchID != nil {
		if b, ok := m.branches[*rec.BranchID]; ok {
			row.BranchName = &b
		}
	}
	return row
}

func (m *memStore) List(_ context.Context, q repositories.AuditQuery) ([]*models.AuditRecordRow, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	qc := q
	m.lastQuery = &qc
	if m.listErr != nil {
		return nil, 0, m.listErr
	}

	var matched []*models.AuditRecordRow
	for _, rec := range m.records {
		if rec.CreatedAt.Before(q.From) || rec.CreatedAt.After(q.To) {
			continue
		}
		if q.BranchID != nil && (rec.BranchID == nil || *rec.BranchID != *q.BranchID) {
			continue
		}
		if q.Actions != nil && !contains(q.Actions, rec.Action) {
			continue
		}
		if q.EntityType != nil && rec.EntityType != *q.EntityType {
			continue
		}
		row := m.row(rec)
		if q.Search != "" {
			term := strings.ToLower(q.Search)
			name := ""
			if row.ActorName != nil {
				name = *row.ActorName
			}
			if !strings.Contains(strings.ToLower(name), term) &&
				!strings.Contains(strings.ToLower(rec.SummaryKey), term) &&
				!strings.Contains(strings.ToLower(rec.EntityType), term) {
				continue
			}
		}
		matched = append(matched, row)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	if q.Offset >= total {
		return []*models.AuditRecordRow{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func (m *memStore) Get(_ context.Context, id string) (*models.AuditRecordRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return m.row(rec), nil
		}
	}
	return nil, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var errStore = errors.New("store unavailable")

func strPtr(s string) *string { return &s }
