// Package destination is the write/read surface of the target database. Records are
// plain column maps keyed by a generated "id"; idempotency is achieved by looking up a
// record's natural key before inserting it.
package destination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get when no row has the requested id
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by Insert when a unique constraint rejects the row
	ErrDuplicate = errors.New("duplicate record")
)

// IDColumn is the primary key column of every target table
const IDColumn = "id"

// Row is a record-shaped set of column values
type Row map[string]interface{}

// Columns returns the row's column names sorted
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Key is a natural uniqueness key: column/value pairs that identify one record
type Key struct {
	Columns []string
	Values  []interface{}
}

// NewKey builds a key from alternating column names and values
func NewKey(pairs ...interface{}) Key {
	var k Key
	for i := 0; i+1 < len(pairs); i += 2 {
		k.Columns = append(k.Columns, fmt.Sprint(pairs[i]))
		k.Values = append(k.Values, pairs[i+1])
	}
	return k
}

// String renders the key for logs and reports
func (k Key) String() string {
	parts := make([]string, len(k.Columns))
	for i, c := range k.Columns {
		parts[i] = c + "=" + Normalize(k.Values[i])
	}
	return strings.Join(parts, ",")
}

// Matches reports whether row carries the key's values
func (k Key) Matches(row Row) bool {
	for i, c := range k.Columns {
		v := row[c]
		if IsNull(v) != IsNull(k.Values[i]) {
			return false
		}
		if Normalize(v) != Normalize(k.Values[i]) {
			return false
		}
	}
	return true
}

// Destination is the target store
type Destination interface {
	// Lookup returns the id of the record matching key, if any
	Lookup(ctx context.Context, table string, key Key) (string, bool, error)
	// Insert writes row and returns its id, generating one when row has none
	Insert(ctx context.Context, table string, row Row) (string, error)
	// Get returns the row with the given id or ErrNotFound
	Get(ctx context.Context, table, id string) (Row, error)
	// Count returns the number of rows in table
	Count(ctx context.Context, table string) (int64, error)
	Close() error
}

// NewID returns a fresh target identifier
func NewID() string {
	return uuid.NewString()
}

// withID returns row with an id column, generating one when absent
func withID(row Row) (Row, string) {
	if v, ok := row[IDColumn]; ok && v != nil && Normalize(v) != "" {
		return row, Normalize(v)
	}
	out := make(Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	id := NewID()
	out[IDColumn] = id
	return out, id
}

// IsNull reports whether v is nil or a nil pointer
func IsNull(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *string:
		return x == nil
	case *int64:
		return x == nil
	case *float64:
		return x == nil
	default:
		return false
	}
}

// Normalize renders a column value as comparable text, smoothing over the different
// Go types drivers return for the same column (bool vs tinyint, []byte vs string,
// time.Time vs timestamp literal).
func Normalize(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case *int64:
		if x == nil {
			return ""
		}
		return strconv.FormatInt(*x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
