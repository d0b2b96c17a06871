package audit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// defaultTemplates covers the summary keys emitted by the academy application
var defaultTemplates = map[string]string{
	"auth.login":        "{name} signed in",
	"auth.logout":       "{name} signed out",
	"auth.failed_login": "Failed sign-in attempt for {email}",
	"password.reset":    "Reset password for {name}",

	"student.created":  "Registered student {name}",
	"student.updated":  "Updated student {name}",
	"student.deleted":  "Removed student {name}",
	"student.promoted": "Promoted {name} to {grade}",

	"enrollment.created":   "Enrolled {name} in {class}",
	"enrollment.confirmed": "Confirmed enrollment of {name} in {class}",
	"enrollment.deleted":   "Withdrew {name} from {class}",

	"payment.recorded":  "{name} paid {amount}",
	"payment.confirmed": "Confirmed payment of {amount} from {name}",
	"payment.deleted":   "Deleted payment of {amount} from {name}",
	"invoice.created":   "Issued invoice {invoice_number} to {name}",
	"fee.updated":       "Changed {fee} fee from {old_amount} to {new_amount}",

	"attendance.updated": "Updated attendance for {class} on {date}",
	"attendance.reset":   "Reset attendance for {class} on {date}",

	"staff.created": "Added staff member {name} as {role}",
	"staff.updated": "Updated staff member {name}",
	"staff.deleted": "Removed staff member {name}",

	"class.created": "Created class {class}",
	"class.updated": "Updated class {class}",
	"class.deleted": "Deleted class {class}",

	"branch.created": "Opened branch {branch}",
	"branch.updated": "Updated branch {branch}",

	"audit.exported": "{name} exported {rows} {view} records",
}

// TemplateRegistry maps summary keys to display templates. It is safe for
// concurrent use.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewTemplateRegistry returns a registry preloaded with the academy defaults
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]string, len(defaultTemplates))}
	for k, v := range defaultTemplates {
		r.templates[k] = v
	}
	return r
}

// Register adds or replaces the template for key
func (r *TemplateRegistry) Register(key, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[key] = template
}

// Lookup returns the template for key. An unregistered key is its own template.
func (r *TemplateRegistry) Lookup(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[key]; ok {
		return t
	}
	return key
}

// Render expands the template registered for key with params
func (r *TemplateRegistry) Render(key string, params map[string]interface{}) string {
	return Substitute(r.Lookup(key), params)
}

// TemplateEntry is one registered template
type TemplateEntry struct {
	Key      string `json:"key"`
	Template string `json:"template"`
}

// Entries lists every registered template sorted by key
func (r *TemplateRegistry) Entries() []TemplateEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TemplateEntry, 0, len(r.templates))
	for k, v := range r.templates {
		out = append(out, TemplateEntry{Key: k, Template: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Substitute replaces every {name} in template with the string form of
// params[name]. Placeholders without a matching key are left verbatim.
func Substitute(template string, params map[string]interface{}) string {
	if len(params) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(ph string) string {
		v, ok := params[ph[1:len(ph)-1]]
		if !ok {
			return ph
		}
		return stringify(v)
	})
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
