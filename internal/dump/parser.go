// Package dump recovers rows from a MySQL logical backup in SQL-statement form.
// Only the subset needed for migration is understood: CREATE TABLE column lists and
// INSERT INTO ... VALUES (...), (...); tuples.
package dump

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Table holds the rows recovered for one source table
type Table struct {
	Name      string         // Source table name
	Columns   []string       // Columns from CREATE TABLE, in order
	Rows      []RawRow       // Rows whose field count matched the column count
	Malformed []MalformedRow // Rows dropped for a field count mismatch
}

// MalformedRow describes a dropped tuple
type MalformedRow struct {
	Statement int    `json:"statement"` // 1-based INSERT statement number within the table
	Row       int    `json:"row"`       // 1-based tuple number within the statement
	Got       int    `json:"got"`       // Fields found
	Want      int    `json:"want"`      // Columns expected
	Snippet   string `json:"snippet"`   // Leading text of the tuple
}

// Dump is a loaded dump file. Statements are split once; tables are parsed lazily
// and cached.
type Dump struct {
	text     string
	settings settings

	mu     sync.Mutex
	stmts  []statement
	split  bool
	tables map[string]*Table
}

// New wraps dump text
func New(text string, opts ...Option) *Dump {
	return &Dump{text: text, settings: newSettings(opts), tables: make(map[string]*Table)}
}

// Load reads a dump file into memory
func Load(path string, opts ...Option) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	return New(string(data), opts...), nil
}

// Table returns the parsed rows of a table, parsing it on first use
func (d *Dump) Table(name string) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tables[name]; ok {
		return t, nil
	}
	if !d.split {
		d.stmts = splitStatements(d.text, d.settings.backslashEscapes)
		d.split = true
	}
	t, err := parseTable(d.text, d.stmts, name, d.settings)
	if err != nil {
		return nil, err
	}
	d.tables[name] = t
	return t, nil
}

// insertPattern matches the head of an INSERT statement for table
func insertPattern(table string) *regexp.Regexp {
	return regexp.MustCompile("(?i)^INSERT\\s+(?:IGNORE\\s+)?INTO\\s+`" + regexp.QuoteMeta(table) +
		"`\\s*(\\([^)]*\\))?\\s*VALUES\\s*")
}

// ParseTable returns all rows for table found in text
func ParseTable(text, table string, opts ...Option) (*Table, error) {
	s := newSettings(opts)
	return parseTable(text, splitStatements(text, s.backslashEscapes), table, s)
}

func parseTable(text string, stmts []statement, table string, s settings) (*Table, error) {
	columns, err := parseColumns(text, stmts, table, s)
	if err != nil {
		return nil, err
	}

	t := &Table{Name: table, Columns: columns}
	index := indexColumns(columns)

	pattern := insertPattern(table)
	inserts := 0
	for _, st := range stmts {
		body := text[st.start:st.end]
		loc := pattern.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		inserts++

		// Optional explicit column list: INSERT INTO `t` (`a`, `b`) VALUES
		stmtColumns, stmtIndex := columns, index
		if loc[2] >= 0 {
			stmtColumns = parseColumnList(body[loc[2]:loc[3]])
			stmtIndex = indexColumns(stmtColumns)
		}

		scanner := &valueScanner{text: body, pos: loc[1], backslash: s.backslashEscapes}
		for i, tuple := range scanner.scan() {
			if tuple.incomplete || len(tuple.values) != len(stmtColumns) {
				t.Malformed = append(t.Malformed, MalformedRow{
					Statement: inserts,
					Row:       i + 1,
					Got:       len(tuple.values),
					Want:      len(stmtColumns),
					Snippet:   snippet(tuple.raw),
				})
				continue
			}
			t.Rows = append(t.Rows, newRawRow(stmtColumns, stmtIndex, tuple.values))
		}
	}

	return t, nil
}

func parseColumnList(list string) []string {
	list = strings.Trim(strings.TrimSpace(list), "()")
	var cols []string
	for _, c := range strings.Split(list, ",") {
		cols = append(cols, strings.Trim(strings.TrimSpace(c), "`\""))
	}
	return cols
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

type tuple struct {
	values     []sql.NullString
	raw        string
	incomplete bool // text ended before the closing parenthesis
}

// valueScanner walks the value list of one INSERT statement character by character.
// Rows open and close at depth 1; quote state is one flag plus the active quote character.
type valueScanner struct {
	text string
	pos  int

	backslash bool // backslash escapes the next character inside quotes

	depth      int
	inQuote    bool
	quoteChar  byte
	buf        strings.Builder // unescaped content of quoted sections in the current value
	valueStart int
	rowStart   int
	current    []sql.NullString
	tuples     []tuple
}

// scan consumes the value list up to the end of the statement text
func (s *valueScanner) scan() []tuple {
	text := s.text
	for s.pos < len(text) {
		c := text[s.pos]

		if s.inQuote {
			switch {
			case s.backslash && c == '\\' && s.pos+1 < len(text):
				s.buf.WriteByte(unescape(text[s.pos+1]))
				s.pos += 2
				continue
			case c == s.quoteChar:
				if s.pos+1 < len(text) && text[s.pos+1] == s.quoteChar {
					s.buf.WriteByte(c)
					s.pos += 2
					continue
				}
				s.inQuote = false
			default:
				s.buf.WriteByte(c)
			}
			s.pos++
			continue
		}

		switch c {
		case '\'', '"':
			if s.depth >= 1 {
				s.inQuote = true
				s.quoteChar = c
			}
		case '(':
			s.depth++
			if s.depth == 1 {
				s.rowStart = s.pos
				s.current = nil
				s.startValue(s.pos + 1)
			}
		case ')':
			if s.depth == 1 {
				s.endValue(s.pos)
				s.tuples = append(s.tuples, tuple{values: s.current, raw: text[s.rowStart:s.pos]})
				s.current = nil
			}
			if s.depth > 0 {
				s.depth--
			}
		case ',':
			if s.depth == 1 {
				s.endValue(s.pos)
				s.startValue(s.pos + 1)
			}
		case ';':
			if s.depth == 0 {
				s.pos++
				return s.tuples
			}
		}
		s.pos++
	}

	// End of text inside a row: keep what was read so the row is reported as malformed
	if s.depth >= 1 {
		s.endValue(s.pos)
		s.tuples = append(s.tuples, tuple{values: s.current, raw: text[s.rowStart:], incomplete: true})
	}
	return s.tuples
}

func (s *valueScanner) startValue(at int) {
	s.valueStart = at
	s.buf.Reset()
}

// endValue classifies the text between valueStart and end: NULL, a quoted string,
// or raw text passed through for the type mapper
func (s *valueScanner) endValue(end int) {
	raw := strings.TrimSpace(s.text[s.valueStart:end])

	var v sql.NullString
	switch {
	case raw == "" && len(s.current) == 0 && s.buf.Len() == 0 && end == s.valueStart:
		// "()" has no values
		s.buf.Reset()
		return
	case strings.EqualFold(raw, "NULL"):
	case isQuoted(raw):
		v = sql.NullString{String: s.buf.String(), Valid: true}
	default:
		v = sql.NullString{String: raw, Valid: true}
	}
	s.current = append(s.current, v)
	s.buf.Reset()
}

func isQuoted(raw string) bool {
	if len(raw) < 2 {
		return false
	}
	q := raw[0]
	return (q == '\'' || q == '"') && raw[len(raw)-1] == q
}

func unescape(c byte) byte {
	switch c {
	case '0':
		return 0
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'Z':
		return 0x1a
	default:
		return c
	}
}
