package dump

import "strings"

// Option configures how dump text is read
type Option func(*settings)

type settings struct {
	backslashEscapes bool
}

// WithBackslashEscapes makes a backslash inside a quoted literal escape the next
// character, as mysqldump writes strings. Without it the only escape is a doubled
// quote and a backslash is an ordinary character.
func WithBackslashEscapes() Option {
	return func(s *settings) { s.backslashEscapes = true }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// statement is text[start:end] of one top-level SQL statement, without its semicolon.
// start is the first character that is neither whitespace nor part of a comment.
type statement struct {
	start, end int
}

// splitStatements cuts text on semicolons outside quoted sections and comments.
// Quotes are ', " and backtick; a doubled quote character stays inside the quote.
func splitStatements(text string, backslash bool) []statement {
	var stmts []statement
	start := -1
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case backslash && c == '\\' && quote != '`':
				i++
			case c == quote:
				if i+1 < len(text) && text[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		if n := commentLen(text[i:]); n > 0 {
			i += n - 1
			continue
		}
		if start < 0 {
			if c == ';' || isSpace(c) {
				continue
			}
			start = i
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case ';':
			stmts = append(stmts, statement{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		stmts = append(stmts, statement{start: start, end: len(text)})
	}
	return stmts
}

// commentLen returns the length of the comment opening s, or 0. Unterminated
// comments run to the end of the text.
func commentLen(s string) int {
	switch {
	case strings.HasPrefix(s, "#"), strings.HasPrefix(s, "-- "), strings.HasPrefix(s, "--\t"),
		s == "--", strings.HasPrefix(s, "--\n"), strings.HasPrefix(s, "--\r"):
		if end := strings.IndexByte(s, '\n'); end >= 0 {
			return end + 1
		}
		return len(s)
	case strings.HasPrefix(s, "/*"):
		if end := strings.Index(s[2:], "*/"); end >= 0 {
			return end + 4
		}
		return len(s)
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
