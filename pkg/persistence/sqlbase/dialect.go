package sqlbase

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the few points where the supported SQL databases differ.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 16)

	for i := range len(query) {
		if query[i] == '?' {
			n++

			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteByte(query[i])
	}

	return b.String()
}

// Placeholders returns n comma-separated ? markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.Repeat("?, ", n-1) + "?"
}

// Time scans timestamp columns from either driver: native time values from
// lib/pq, text from SQLite.
type Time struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Scan implements sql.Scanner.
func (t *Time) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false

		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true

		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", value)
	}
}

func (t *Time) parse(s string) error {
	// time.Time.String() appends a monotonic clock reading.
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true

			return nil
		}
	}

	if parsed, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s); err == nil {
		t.Time, t.Valid = parsed.UTC(), true

		return nil
	}

	return fmt.Errorf("unrecognized timestamp %q", s)
}

// Ptr returns nil for NULL columns.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time

	return &v
}

// Value implements driver.Valuer so Time can round-trip as a parameter.
func (t Time) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}

	return t.Time.UTC(), nil
}

// NullableTime converts an optional timestamp into a query parameter.
func NullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}

// JSONParam marshals v into the text form both JSONB and TEXT columns accept.
func JSONParam(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}

	return string(data), nil
}

// DecodeJSON unmarshals a nullable JSON column into dest.
func DecodeJSON(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}

	if err := json.Unmarshal([]byte(col.String), dest); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}

	return nil
}
