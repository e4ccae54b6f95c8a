package dump

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = "CREATE TABLE `t` (`id` int, `name` varchar(50));\n" +
	"INSERT INTO `t` VALUES (1,'O''Brien'),(2,NULL);\n"

func TestParseTableScenario(t *testing.T) {
	table, err := ParseTable(sampleDump, "t")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Empty(t, table.Malformed)

	first := table.Rows[0].Map()
	require.NotNil(t, first["id"])
	require.NotNil(t, first["name"])
	assert.Equal(t, "1", *first["id"])
	assert.Equal(t, "O'Brien", *first["name"])

	second := table.Rows[1].Map()
	assert.Equal(t, "2", *second["id"])
	assert.Nil(t, second["name"])
	assert.True(t, table.Rows[1].IsNull("name"))
}

func TestParseColumnsSkipsKeys(t *testing.T) {
	text := "CREATE TABLE `bookings` (\n" +
		"  `id` bigint unsigned NOT NULL AUTO_INCREMENT,\n" +
		"  `total_amount` decimal(10,2) DEFAULT NULL COMMENT 'gross, incl. fees (GBP)',\n" +
		"  `status` tinyint NOT NULL DEFAULT '0',\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  UNIQUE KEY `uniq_x` (`id`,`status`),\n" +
		"  KEY `idx_status` (`status`),\n" +
		"  INDEX `idx_amount` (`total_amount`),\n" +
		"  CONSTRAINT `fk` FOREIGN KEY (`id`) REFERENCES `x` (`id`)\n" +
		") ENGINE=InnoDB;"

	cols, err := ParseColumns(text, "bookings")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total_amount", "status"}, cols)
}

func TestParseTableSchemaNotFound(t *testing.T) {
	_, err := ParseTable(sampleDump, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaNotFound))

	var snf *SchemaNotFoundError
	require.True(t, errors.As(err, &snf))
	assert.Equal(t, "missing", snf.Table)
}

func TestParseTableUnterminatedSchema(t *testing.T) {
	_, err := ParseTable("CREATE TABLE `t` (`id` int, `name` varchar(5)", "t")
	assert.True(t, errors.Is(err, ErrMalformedSchema))
}

func TestColumnCountMismatchIsDroppedAndCounted(t *testing.T) {
	text := "CREATE TABLE `t` (`id` int, `name` varchar(50), `age` int);\n" +
		"INSERT INTO `t` VALUES (1,'a',30),(2,'b'),(3,'c',31);\n" +
		"INSERT INTO `t` VALUES (4,'d',40);\n"

	table, err := ParseTable(text, "t")
	require.NoError(t, err)

	require.Len(t, table.Rows, 3)
	assert.Equal(t, "1", table.Rows[0].String("id"))
	assert.Equal(t, "3", table.Rows[1].String("id"))
	assert.Equal(t, "4", table.Rows[2].String("id"))

	require.Len(t, table.Malformed, 1)
	assert.Equal(t, MalformedRow{Statement: 1, Row: 2, Got: 2, Want: 3, Snippet: "(2,'b'"}, table.Malformed[0])
}

func TestParseTableQuotingRules(t *testing.T) {
	text := "CREATE TABLE `m` (`id` int, `body` text, `loc` point, `note` text, `price` decimal(8,2));\n" +
		"insert into `m` values " +
		`(1,'it''s (a), test; ok','\0\0\0\0\1\1\0\0','say "hi"',12.50),` +
		`(2,"double ""quoted""",_binary '\0\0\0\0\1\1\0\0\0',NULL,-3),` +
		`(3,'C:\dir\',NULL,'',0);` + "\n" +
		"INSERT INTO `other` VALUES (9,'x');\n"

	table, err := ParseTable(text, "m")
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Empty(t, table.Malformed)

	r := table.Rows
	assert.Equal(t, "it's (a), test; ok", r[0].String("body"))
	assert.Equal(t, `\0\0\0\0\1\1\0\0`, r[0].String("loc"))
	assert.Equal(t, `say "hi"`, r[0].String("note"))
	assert.Equal(t, "12.50", r[0].String("price"))

	assert.Equal(t, `double "quoted"`, r[1].String("body"))
	assert.True(t, strings.HasPrefix(r[1].String("loc"), "_binary '"), r[1].String("loc"))
	assert.True(t, r[1].IsNull("note"))
	assert.Equal(t, "-3", r[1].String("price"))

	assert.Equal(t, `C:\dir\`, r[2].String("body"))
	v, ok := r[2].Get("note")
	require.True(t, ok)
	assert.True(t, v.Valid)
	assert.Equal(t, "", v.String)
}

func TestBackslashIsLiteralByDefault(t *testing.T) {
	text := "CREATE TABLE `t` (`id` int, `path` varchar(50));\n" +
		`INSERT INTO ` + "`t`" + ` VALUES (1,'C:\'),(2,'x'),(3,'a\b\n');` + "\n"

	table, err := ParseTable(text, "t")
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Empty(t, table.Malformed)

	assert.Equal(t, `C:\`, table.Rows[0].String("path"))
	assert.Equal(t, "x", table.Rows[1].String("path"))
	assert.Equal(t, `a\b\n`, table.Rows[2].String("path"))
	assert.Equal(t, `'a\b\n'`, Quote(table.Rows[2].String("path")))
}

func TestParseTableBackslashEscapes(t *testing.T) {
	text := "CREATE TABLE `m` (`id` int, `body` text);\n" +
		"INSERT INTO `m` VALUES " +
		`(1,'back\\slash\nline'),(2,'it\'s'),(3,'tab\there\Z');` + "\n"

	table, err := ParseTable(text, "m", WithBackslashEscapes())
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, "back\\slash\nline", table.Rows[0].String("body"))
	assert.Equal(t, "it's", table.Rows[1].String("body"))
	assert.Equal(t, "tab\there\x1a", table.Rows[2].String("body"))

	// the same text read with doubled quotes only keeps every backslash
	plain, err := ParseTable(text, "m")
	require.NoError(t, err)
	assert.NotEmpty(t, plain.Malformed)
}

func TestInsertInsideQuotedValueIsNotParsed(t *testing.T) {
	text := "-- Dump of `t`, don't edit\n" +
		"/*!40101 SET NAMES utf8mb4 */;\n" +
		"CREATE TABLE `notes` (`id` int, `body` text);\n" +
		"INSERT INTO `notes` VALUES (1,'INSERT INTO `t` VALUES (99,''x'');'),(2,'CREATE TABLE `u` (`a` int);');\n" +
		"# owner's table\n" +
		"CREATE TABLE `t` (`id` int, `name` varchar(50));\n" +
		"INSERT INTO `t` VALUES (1,'a');\n"

	table, err := ParseTable(text, "t")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "1", table.Rows[0].String("id"))
	assert.Empty(t, table.Malformed)

	notes, err := ParseTable(text, "notes")
	require.NoError(t, err)
	require.Len(t, notes.Rows, 2)
	assert.Equal(t, "INSERT INTO `t` VALUES (99,'x');", notes.Rows[0].String("body"))

	_, err = ParseColumns(text, "u")
	assert.True(t, errors.Is(err, ErrSchemaNotFound))
}

func TestSplitStatements(t *testing.T) {
	text := "/* header; */ SELECT 1;\n-- a; b\nSELECT 'x;y';;  SELECT `a;b`"
	var got []string
	for _, st := range splitStatements(text, false) {
		got = append(got, text[st.start:st.end])
	}
	assert.Equal(t, []string{"SELECT 1", "SELECT 'x;y'", "SELECT `a;b`"}, got)
}

func TestParseTableExplicitColumnList(t *testing.T) {
	text := "CREATE TABLE `t` (`id` int, `name` varchar(50));\n" +
		"INSERT INTO `t` (`name`, `id`) VALUES ('x',7);\n"

	table, err := ParseTable(text, "t")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "7", table.Rows[0].String("id"))
	assert.Equal(t, "x", table.Rows[0].String("name"))
}

func TestParseTableTruncatedStatement(t *testing.T) {
	text := "CREATE TABLE `t` (`id` int, `name` varchar(50));\n" +
		"INSERT INTO `t` VALUES (1,'a'),(2,'unterminated"

	table, err := ParseTable(text, "t")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	require.Len(t, table.Malformed, 1)
}

// Round trip: N rows of M columns with embedded quotes and NULLs come back intact,
// and re-quoting any recovered string reproduces the dump's literal.
func TestRoundTripParsing(t *testing.T) {
	tests := []struct {
		name  string
		quote func(string) string
		opts  []Option
	}{
		{name: "doubled quotes", quote: Quote},
		{name: "backslash escapes", quote: QuoteEscaped, opts: []Option{WithBackslashEscapes()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRoundTrip(t, tt.quote, tt.opts...)
		})
	}
}

func assertRoundTrip(t *testing.T, quote func(string) string, opts ...Option) {
	const n, m = 50, 6
	values := []string{"plain", "O'Brien", "''", "a,b", "(paren)", "semi;colon", `back\slash`, `C:\`,
		"line\nbreak", `mixed "dq" and 'sq'`}

	var cols []string
	for c := 0; c < m; c++ {
		cols = append(cols, fmt.Sprintf("`c%d` varchar(64)", c))
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE `rt` (" + strings.Join(cols, ", ") + ");\n")
	b.WriteString("INSERT INTO `rt` VALUES ")

	expected := make([][]*string, n)
	literals := make([][]string, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		expected[i] = make([]*string, m)
		literals[i] = make([]string, m)
		for c := 0; c < m; c++ {
			if c > 0 {
				b.WriteString(",")
			}
			switch {
			case (i+c)%7 == 0:
				b.WriteString("NULL")
				literals[i][c] = "NULL"
			case c == 0:
				lit := fmt.Sprintf("%d", i)
				b.WriteString(lit)
				s := lit
				expected[i][c] = &s
				literals[i][c] = lit
			default:
				s := values[(i*m+c)%len(values)]
				lit := quote(s)
				b.WriteString(lit)
				expected[i][c] = &s
				literals[i][c] = lit
			}
		}
		b.WriteString(")")
	}
	b.WriteString(";\n")

	table, err := ParseTable(b.String(), "rt", opts...)
	require.NoError(t, err)
	require.Len(t, table.Rows, n)
	assert.Empty(t, table.Malformed)

	for i, row := range table.Rows {
		require.Equal(t, m, row.Len())
		for c, col := range row.Columns() {
			got := row.Value(col)
			if expected[i][c] == nil {
				assert.False(t, got.Valid, "row %d col %s", i, col)
				continue
			}
			require.True(t, got.Valid, "row %d col %s", i, col)
			assert.Equal(t, *expected[i][c], got.String)
			if c > 0 {
				assert.Equal(t, literals[i][c], quote(got.String))
			}
		}
	}
}

func TestDumpCachesTables(t *testing.T) {
	d := New(sampleDump)
	first, err := d.Table("t")
	require.NoError(t, err)
	second, err := d.Table("t")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDumpAppliesOptions(t *testing.T) {
	text := "CREATE TABLE `t` (`id` int, `name` varchar(50));\n" +
		`INSERT INTO ` + "`t`" + ` VALUES (1,'it\'s');` + "\n"

	table, err := New(text, WithBackslashEscapes()).Table("t")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "it's", table.Rows[0].String("name"))
}

func TestRawRowMarshalJSON(t *testing.T) {
	table, err := ParseTable(sampleDump, "t")
	require.NoError(t, err)
	data, err := table.Rows[1].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"2","name":null}`, string(data))
}
