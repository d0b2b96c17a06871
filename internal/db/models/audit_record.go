// Package models - audit_record.go defines the immutable AuditRecord written for every audited
// action, together with the opaque JSON document types used for snapshots, metadata and
// summary parameters.
package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audited verbs. The set is closed: the writer rejects anything else and the
// audit_records table carries a matching CHECK constraint.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionLogin       = "login"
	ActionLogout      = "logout"
	ActionFailedLogin = "failed_login"
	ActionReset       = "reset"
	ActionPromote     = "promote"
	ActionConfirm     = "confirm"
)

// Actions lists every valid action in a stable order.
var Actions = []string{
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionLogin,
	ActionLogout,
	ActionFailedLogin,
	ActionReset,
	ActionPromote,
	ActionConfirm,
}

// SensitiveActions are surfaced through the sensitive-only filter.
var SensitiveActions = []string{ActionDelete, ActionReset}

// AuthActions are the actions shown in the login history view.
var AuthActions = []string{ActionLogin, ActionLogout, ActionFailedLogin}

// IsValidAction reports whether action belongs to the closed action set.
func IsValidAction(action string) bool {
	for _, a := range Actions {
		if a == action {
			return true
		}
	}
	return false
}

// AuditRecord is one entry of the append-only audit trail
type AuditRecord struct {
	ID            string    `db:"id" json:"id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ActorUserID   string    `db:"actor_user_id" json:"actor_user_id"`
	ActorRole     string    `db:"actor_role" json:"actor_role"` // snapshot at time of action
	BranchID      *string   `db:"branch_id" json:"branch_id"`   // nil for platform-wide events
	Action        string    `db:"action" json:"action"`
	EntityType    string    `db:"entity_type" json:"entity_type"`
	EntityID      *string   `db:"entity_id" json:"entity_id"`
	SummaryKey    string    `db:"summary_key" json:"summary_key"`
	SummaryParams Params    `db:"summary_params" json:"summary_params"`
	BeforeData    Document  `db:"before_data" json:"before_data"`
	AfterData     Document  `db:"after_data" json:"after_data"`
	Metadata      Document  `db:"metadata" json:"metadata"`
	IPAddress     *string   `db:"ip_address" json:"ip_address"`
	IPMasked      *string   `db:"ip_masked" json:"ip_masked"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	DeviceName    string    `db:"device_name" json:"device_name"`
	OSName        string    `db:"os_name" json:"os_name"`
	BrowserName   string    `db:"browser_name" json:"browser_name"`
	IsMobile      bool      `db:"is_mobile" json:"is_mobile"`
}

// AuditRecordRow is an AuditRecord joined with the display names of its actor and branch.
type AuditRecordRow struct {
	AuditRecord
	ActorName  *string `db:"actor_name" json:"actor_name"`
	BranchName *string `db:"branch_name" json:"branch_name"`
}

// Document is an opaque JSON value kept byte-for-byte as the caller supplied it.
// A nil Document is stored as SQL NULL and encoded as JSON null.
type Document json.RawMessage

// IsNull reports whether the document is absent.
func (d Document) IsNull() bool {
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// MarshalJSON implements json.Marshaler
func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsNull() {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Document) UnmarshalJSON(data []byte) error {
	if d == nil {
		return fmt.Errorf("models.Document: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[0:0], data...)
	return nil
}

// Value implements driver.Valuer
func (d Document) Value() (driver.Value, error) {
	if d.IsNull() {
		return nil, nil
	}
	return []byte(d), nil
}

// Scan implements sql.Scanner
func (d *Document) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(Document(nil), v...)
	case string:
		*d = Document(v)
	default:
		return fmt.Errorf("models.Document: cannot scan %T", src)
	}
	return nil
}

// Params maps summary placeholder names to values. Numbers are decoded as
// json.Number so they render exactly as they were written.
type Params map[string]interface{}

// UnmarshalJSON implements json.Unmarshaler
func (p *Params) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*p = m
	return nil
}

// Value implements driver.Valuer
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(p))
}

// Scan implements sql.Scanner
func (p *Params) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models.Params: cannot scan %T", src)
	}
	return p.UnmarshalJSON(data)
}
