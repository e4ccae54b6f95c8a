// Package coerce converts raw dump field text into typed values.
//
// Optional fields come back as pointers (nil when NULL or unparsable). Required fields
// come back with an error the caller must check. Nothing here performs I/O.
package coerce

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissing is returned for a required field that is NULL or empty
var ErrMissing = errors.New("required value missing")

// TimestampLayout is the dump's DATETIME/TIMESTAMP literal format
const TimestampLayout = "2006-01-02 15:04:05"

// Clock supplies the processing time substituted for missing timestamps
type Clock func() time.Time

// SystemClock returns the current UTC time
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Bool is true only for "1"; everything else, NULL included, is false
func Bool(v sql.NullString) bool {
	return v.Valid && strings.TrimSpace(v.String) == "1"
}

// OptionalInt returns nil for NULL or unparsable text
func OptionalInt(v sql.NullString) *int64 {
	if !v.Valid {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// RequiredInt parses an integer that must be present
func RequiredInt(v sql.NullString) (int64, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return 0, ErrMissing
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", v.String, err)
	}
	return n, nil
}

// OptionalFloat returns nil for NULL or unparsable text
func OptionalFloat(v sql.NullString) *float64 {
	if !v.Valid {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String), 64)
	if err != nil {
		return nil
	}
	return &f
}

// OptionalDecimal returns nil for NULL or unparsable text
func OptionalDecimal(v sql.NullString) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String))
	if err != nil {
		return nil
	}
	return &d
}

// RequiredDecimal parses a decimal that must be present
func RequiredDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return decimal.Zero, ErrMissing
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", v.String, err)
	}
	return d, nil
}

// OptionalString returns nil for NULL, the text otherwise
func OptionalString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// NonEmpty returns nil for NULL or whitespace-only text, the trimmed text otherwise
func NonEmpty(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := strings.TrimSpace(v.String)
	if s == "" {
		return nil
	}
	return &s
}

// Timestamp passes the dump's literal through. A missing or zero-date value is
// replaced by the processing time from clock, and substituted is set.
func Timestamp(v sql.NullString, clock Clock) (ts string, substituted bool) {
	if v.Valid {
		s := strings.TrimSpace(v.String)
		if s != "" && !strings.HasPrefix(s, "0000-00-00") {
			return s, false
		}
	}
	return clock().UTC().Format(TimestampLayout), true
}

// OptionalTimestamp returns nil for NULL, empty and zero-date values
func OptionalTimestamp(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := strings.TrimSpace(v.String)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	return &s
}

// ParseTime parses a dump timestamp literal (also accepting RFC 3339 and bare dates)
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// IDList leniently reads an embedded JSON list of identifiers such as `[1,"2",3]`.
// Numbers and strings are both accepted; anything unparsable yields an empty list.
func IDList(v sql.NullString) []string {
	if !v.Valid {
		return nil
	}
	text := strings.TrimSpace(v.String)
	if text == "" {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil
	}

	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil && n.String() != "" {
			ids = append(ids, n.String())
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil && strings.TrimSpace(s) != "" {
			ids = append(ids, strings.TrimSpace(s))
		}
	}
	return ids
}
