package audit

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// ExportTimeLayout formats the Date/Time column
const ExportTimeLayout = "2006-01-02 15:04:05"

// Column is one exported field
type Column struct {
	Header string
	Value  func(rec RecordView, vis Visibility) string
}

// ActivityColumns are exported by the activity log
var ActivityColumns = []Column{
	{"Date/Time", exportTime},
	{"User", func(r RecordView, _ Visibility) string { return r.ActorName }},
	{"Role", func(r RecordView, _ Visibility) string { return r.ActorRole }},
	{"Branch", exportBranch},
	{"Action", func(r RecordView, _ Visibility) string { return r.Action }},
	{"Entity Type", func(r RecordView, _ Visibility) string { return r.EntityType }},
	{"Entity ID", func(r RecordView, _ Visibility) string { return deref(r.EntityID) }},
	{"Device", func(r RecordView, _ Visibility) string { return r.DeviceName }},
	{"OS", func(r RecordView, _ Visibility) string { return r.OSName }},
	{"Browser", func(r RecordView, _ Visibility) string { return r.BrowserName }},
	{"IP", exportIP},
	{"Summary", func(r RecordView, _ Visibility) string { return r.Summary }},
}

// LoginHistoryColumns are exported by the login history
var LoginHistoryColumns = []Column{
	{"Date/Time", exportTime},
	{"User", func(r RecordView, _ Visibility) string { return r.ActorName }},
	{"Role", func(r RecordView, _ Visibility) string { return r.ActorRole }},
	{"Branch", exportBranch},
	{"Event", func(r RecordView, _ Visibility) string { return r.Action }},
	{"Device", func(r RecordView, _ Visibility) string { return r.DeviceName }},
	{"OS", func(r RecordView, _ Visibility) string { return r.OSName }},
	{"Browser", func(r RecordView, _ Visibility) string { return r.BrowserName }},
	{"Mobile", func(r RecordView, _ Visibility) string { return strconv.FormatBool(r.IsMobile) }},
	{"IP", exportIP},
}

// ColumnsFor returns the export columns of view
func ColumnsFor(view View) []Column {
	if view == ViewLoginHistory {
		return LoginHistoryColumns
	}
	return ActivityColumns
}

// FormatCSV renders a header row and one row per record. Every field is
// double-quoted with embedded quotes doubled and rows end in "\n".
func FormatCSV(records []RecordView, columns []Column, vis Visibility) []byte {
	var buf bytes.Buffer
	row := make([]string, len(columns))

	for i, c := range columns {
		row[i] = c.Header
	}
	writeRow(&buf, row)

	for _, rec := range records {
		for i, c := range columns {
			row[i] = c.Value(rec, vis)
		}
		writeRow(&buf, row)
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

// ExportFilename names the download for view over the given date range
func ExportFilename(view View, from, to time.Time) string {
	prefix := "activity-log"
	if view == ViewLoginHistory {
		prefix = "login-history"
	}
	return prefix + "_" + from.Format("2006-01-02") + "_to_" + to.Format("2006-01-02") + ".csv"
}

func exportTime(r RecordView, _ Visibility) string {
	return r.CreatedAt.UTC().Format(ExportTimeLayout)
}

func exportBranch(r RecordView, _ Visibility) string {
	if r.BranchName != nil && *r.BranchName != "" {
		return *r.BranchName
	}
	return deref(r.BranchID)
}

func exportIP(r RecordView, vis Visibility) string {
	if vis.RawIP && r.IPAddress != nil {
		return *r.IPAddress
	}
	return deref(r.IPMasked)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
