package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/shahariaz/legacy_dump_migrator/internal/config"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// dialect hides placeholder and identifier quoting differences between drivers
type dialect interface {
	placeholder(n int) string
	quote(ident string) string
	isDuplicate(err error) bool
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (postgresDialect) isDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" // unique_violation
}

type mysqlDialect struct{}

func (mysqlDialect) placeholder(int) string { return "?" }
func (mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062 // ER_DUP_ENTRY
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return postgresDialect{}, nil
	case config.DriverMySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported destination driver %q", driver)
	}
}

// SQL is a Destination backed by database/sql
type SQL struct {
	db      *sql.DB
	dialect dialect
	logger  *logger.Logger
}

// Open connects to the configured destination database and verifies the connection
func Open(ctx context.Context, cfg config.DestinationConfig, logger *logger.Logger) (*SQL, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open destination: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping destination: %w", err)
	}

	logger.Info("Connected to destination database",
		"driver", cfg.Driver,
		"host", cfg.Host,
		"database", cfg.Database)

	return &SQL{db: db, dialect: d, logger: logger}, nil
}

// NewSQL wraps an existing connection pool
func NewSQL(db *sql.DB, driver string, logger *logger.Logger) (*SQL, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &SQL{db: db, dialect: d, logger: logger}, nil
}

// Lookup finds the id of the row matching key
func (s *SQL) Lookup(ctx context.Context, table string, key Key) (string, bool, error) {
	query, args := s.lookupQuery(table, key)

	var id interface{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s by %s: %w", table, key, err)
	}
	return Normalize(id), true, nil
}

func (s *SQL) lookupQuery(table string, key Key) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	for i, col := range key.Columns {
		if IsNull(key.Values[i]) {
			conds = append(conds, s.dialect.quote(col)+" IS NULL")
			continue
		}
		args = append(args, key.Values[i])
		conds = append(conds, fmt.Sprintf("%s = %s", s.dialect.quote(col), s.dialect.placeholder(len(args))))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1",
		s.dialect.quote(IDColumn), s.dialect.quote(table), strings.Join(conds, " AND "))
	return query, args
}

// Insert writes row, generating an id when row has none
func (s *SQL) Insert(ctx context.Context, table string, row Row) (string, error) {
	row, id := withID(row)
	query, args := s.insertQuery(table, row)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.dialect.isDuplicate(err) {
			return "", fmt.Errorf("insert %s: %w: %v", table, ErrDuplicate, err)
		}
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (s *SQL) insertQuery(table string, row Row) (string, []interface{}) {
	cols := row.Columns()
	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		quoted[i] = s.dialect.quote(c)
		holders[i] = s.dialect.placeholder(i + 1)
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(table), strings.Join(quoted, ", "), strings.Join(holders, ", "))
	return query, args
}

// Get reads the row with id
func (s *SQL) Get(ctx context.Context, table, id string) (Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		s.dialect.quote(table), s.dialect.quote(IDColumn), s.dialect.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	values := make([]interface{}, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return nil, fmt.Errorf("scan %s %s: %w", table, id, err)
	}

	row := make(Row, len(cols))
	for i, c := range cols {
		row[c] = values[i]
	}
	return row, rows.Err()
}

// Count returns the number of rows in table
func (s *SQL) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.dialect.quote(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// Close closes the connection pool
func (s *SQL) Close() error {
	return s.db.Close()
}
