package dump

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrSchemaNotFound is returned when the dump has no CREATE TABLE for a table
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrMalformedSchema is returned when a CREATE TABLE statement cannot be read
	ErrMalformedSchema = errors.New("malformed schema statement")
)

// SchemaNotFoundError names the table whose CREATE TABLE statement is missing
type SchemaNotFoundError struct {
	Table string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("CREATE TABLE for `%s` not found in dump", e.Table)
}

func (e *SchemaNotFoundError) Is(target error) bool {
	return target == ErrSchemaNotFound
}

// pseudoColumns are leading keywords of table-level definitions inside CREATE TABLE
var pseudoColumns = map[string]bool{
	"PRIMARY":    true,
	"KEY":        true,
	"INDEX":      true,
	"UNIQUE":     true,
	"CONSTRAINT": true,
	"FOREIGN":    true,
	"FULLTEXT":   true,
	"SPATIAL":    true,
	"CHECK":      true,
}

func createTablePattern(table string) *regexp.Regexp {
	return regexp.MustCompile("(?i)^CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?`" +
		regexp.QuoteMeta(table) + "`\\s*\\(")
}

// ParseColumns returns the column names declared by CREATE TABLE `table`, in order
func ParseColumns(text, table string, opts ...Option) ([]string, error) {
	s := newSettings(opts)
	return parseColumns(text, splitStatements(text, s.backslashEscapes), table, s)
}

func parseColumns(text string, stmts []statement, table string, s settings) ([]string, error) {
	pattern := createTablePattern(table)
	for _, st := range stmts {
		stmt := text[st.start:st.end]
		loc := pattern.FindStringIndex(stmt)
		if loc == nil {
			continue
		}
		body, ok := enclosed(stmt, loc[1], s.backslashEscapes)
		if !ok {
			return nil, fmt.Errorf("%w: unterminated CREATE TABLE `%s`", ErrMalformedSchema, table)
		}
		return columnNames(body, table, s.backslashEscapes)
	}
	return nil, &SchemaNotFoundError{Table: table}
}

// columnNames reads the column definitions of a CREATE TABLE body
func columnNames(body, table string, backslash bool) ([]string, error) {
	var columns []string
	for _, def := range splitTopLevel(body, backslash) {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		if def[0] == '`' {
			end := strings.IndexByte(def[1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated identifier in `%s`", ErrMalformedSchema, table)
			}
			columns = append(columns, def[1:end+1])
			continue
		}

		word := strings.Fields(def)[0]
		if pseudoColumns[strings.ToUpper(word)] {
			continue
		}
		columns = append(columns, strings.Trim(word, `"`))
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: `%s` declares no columns", ErrMalformedSchema, table)
	}
	return columns, nil
}

// enclosed returns the text between start and the parenthesis closing the one just
// before start, skipping quoted sections.
func enclosed(text string, start int, backslash bool) (string, bool) {
	depth := 1
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case backslash && c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return text[start:i], true
			}
		}
	}
	return "", false
}

// splitTopLevel splits a definition list on commas outside parentheses and quotes
func splitTopLevel(body string, backslash bool) []string {
	var parts []string
	depth, last := 0, 0
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch {
			case backslash && c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, body[last:])
}
