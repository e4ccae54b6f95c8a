package dump

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// RawRow is one tuple recovered from an INSERT statement: an ordered mapping from
// column name to a nullable string.
type RawRow struct {
	columns []string
	index   map[string]int
	values  []sql.NullString
}

func newRawRow(columns []string, index map[string]int, values []sql.NullString) RawRow {
	return RawRow{columns: columns, index: index, values: values}
}

// NewRawRow builds a row from parallel column and value slices. A nil value is NULL.
func NewRawRow(columns []string, values []*string) RawRow {
	index := indexColumns(columns)
	vals := make([]sql.NullString, len(columns))
	for i := range columns {
		if i < len(values) && values[i] != nil {
			vals[i] = sql.NullString{String: *values[i], Valid: true}
		}
	}
	return newRawRow(columns, index, vals)
}

// Columns returns the column names in declaration order
func (r RawRow) Columns() []string {
	return r.columns
}

// Len returns the number of fields in the row
func (r RawRow) Len() int {
	return len(r.values)
}

// Get returns the field for col and whether the column exists at all
func (r RawRow) Get(col string) (sql.NullString, bool) {
	i, ok := r.index[col]
	if !ok || i >= len(r.values) {
		return sql.NullString{}, false
	}
	return r.values[i], true
}

// Value returns the field for col; unknown columns read as NULL
func (r RawRow) Value(col string) sql.NullString {
	v, _ := r.Get(col)
	return v
}

// String returns the field text, or "" when NULL
func (r RawRow) String(col string) string {
	return r.Value(col).String
}

// IsNull reports whether col is NULL or absent
func (r RawRow) IsNull(col string) bool {
	return !r.Value(col).Valid
}

// Map returns the row as a column -> *string map; NULL fields are nil
func (r RawRow) Map() map[string]*string {
	out := make(map[string]*string, len(r.columns))
	for i, col := range r.columns {
		if i < len(r.values) && r.values[i].Valid {
			s := r.values[i].String
			out[col] = &s
		} else {
			out[col] = nil
		}
	}
	return out
}

// MarshalJSON renders the row as a JSON object with null for NULL fields
func (r RawRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func indexColumns(columns []string) map[string]int {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return index
}

// Quote renders s as a dump string literal with single quotes doubled. It is the
// inverse of the parser's default reading, where a backslash is an ordinary character.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteEscaped renders s the way mysqldump writes it: single quotes doubled,
// backslashes and control characters escaped. It is the inverse of parsing with
// WithBackslashEscapes.
func QuoteEscaped(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1a:
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
