package store

import (
	"database/sql"
	"strings"
	"time"
)

// timeLayout matches the strftime format the migrations use as column
// defaults, so values written by SQLite itself and values written by the
// Go driver round-trip identically.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// joinCSV and splitCSV store []string filter fields as a comma-separated
// column, matching the teacher's preference for flat SQLite schemas over
// extra join tables for small denormalized lists (see guardrail_rules in
// the original schema).
func joinCSV(items []string) string {
	return strings.Join(items, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
