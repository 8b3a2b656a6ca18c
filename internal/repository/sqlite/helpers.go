package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ============================================================================
// Time Helpers
// ============================================================================

// timeLayout is RFC 3339 with fixed-width nanoseconds, so stored UTC
// timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// timeToNull stores the zero time as NULL
func timeToNull(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullToTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals v to a nullable JSON string; nil pointers become NULL
func marshalToNull[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
