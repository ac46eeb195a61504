package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // registers "postgres"
	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite3  = "sqlite3"
	DriverSQLite   = "sqlite"
	DriverPGX      = "pgx"
	DriverPostgres = "postgres"
)

const (
	dialectSQLite3  = "sqlite3"
	dialectPostgres = "postgres"

	logMsgSQLExecuted    = "executed sql for: "
	logMsgSQLFailed      = "sql execution failed"
	logMsgBuildFailed    = "failed to build sql statement"
	logMsgRollbackFailed = "failed to roll back transaction"
	logAttrError         = "error"
	logAttrQuery         = "query"
	logAttrDurationMS    = "duration_ms"
	logActionQuery       = "query"
	logActionExec        = "exec"
	logActionInsert      = "insert"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Statement is anything goqu can render to SQL plus bound arguments.
type Statement interface {
	ToSQL() (string, []any, error)
}

// querier is implemented by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Database is the sole owner of the store connection. It keeps a single
// open connection and exposes execute / query primitives over goqu
// statements. It is not safe for interleaved use; callers go through a
// Serializer.
type Database struct {
	db      *sqlx.DB
	q       querier
	inTx    bool
	driver  string
	dialect string
	builder goqu.DialectWrapper
	logger  Logger
}

// Option configures a Database.
type Option func(*Database) error

// WithLogger sets the logger receiving per-statement debug output and
// failures.
func WithLogger(logger Logger) Option {
	return func(d *Database) error {
		d.logger = logger
		return nil
	}
}

// Open connects to the store identified by driver and dsn. For the SQLite
// drivers dsn is a file path (":memory:" works too); for PostgreSQL it is a
// connection string.
func Open(ctx context.Context, driver, dsn string, options ...Option) (*Database, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	if dialect == dialectSQLite3 {
		if dsn, err = sqliteDSN(driver, dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	// One connection: the store has exactly one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	d := &Database{
		db:      db,
		q:       db,
		driver:  driver,
		dialect: dialect,
		builder: goqu.Dialect(dialect),
	}
	for _, option := range options {
		if err := option(d); err != nil {
			db.Close()
			return nil, err
		}
	}
	return d, nil
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		return dialectSQLite3, nil
	case DriverPGX, DriverPostgres:
		return dialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func sqliteDSN(driver, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path, nil
	}
	if path != ":memory:" {
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	if driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path), nil
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL", path), nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Driver returns the database/sql driver name in use.
func (d *Database) Driver() string { return d.driver }

// substringFunc names the SQL function returning the 1-based position of a
// substring, 0 when absent.
func (d *Database) substringFunc() string {
	if d.dialect == dialectPostgres {
		return "strpos"
	}
	return "instr"
}

// From starts a prepared SELECT on table.
func (d *Database) From(table any) *goqu.SelectDataset {
	return d.builder.From(table).Prepared(true)
}

// InsertInto starts a prepared INSERT on table.
func (d *Database) InsertInto(table any) *goqu.InsertDataset {
	return d.builder.Insert(table).Prepared(true)
}

// Update starts a prepared UPDATE on table.
func (d *Database) Update(table any) *goqu.UpdateDataset {
	return d.builder.Update(table).Prepared(true)
}

// DeleteFrom starts a prepared DELETE on table.
func (d *Database) DeleteFrom(table any) *goqu.DeleteDataset {
	return d.builder.Delete(table).Prepared(true)
}

// Exec runs a statement and returns the number of affected rows.
func (d *Database) Exec(ctx context.Context, stmt Statement) (int64, error) {
	query, args, err := d.render(stmt)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	res, err := d.q.ExecContext(ctx, query, args...)
	d.logQuery(query, logActionExec, time.Since(start))
	if err != nil {
		d.logFailure(query, err)
		return 0, err
	}
	return res.RowsAffected()
}

// Get scans exactly one row into dest. It returns sql.ErrNoRows when the
// statement matched nothing.
func (d *Database) Get(ctx context.Context, dest any, stmt Statement) error {
	query, args, err := d.render(stmt)
	if err != nil {
		return err
	}

	start := time.Now()
	err = d.q.GetContext(ctx, dest, query, args...)
	d.logQuery(query, logActionQuery, time.Since(start))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		d.logFailure(query, err)
	}
	return err
}

// Select scans all rows into dest, which must be a pointer to a slice.
func (d *Database) Select(ctx context.Context, dest any, stmt Statement) error {
	query, args, err := d.render(stmt)
	if err != nil {
		return err
	}

	start := time.Now()
	err = d.q.SelectContext(ctx, dest, query, args...)
	d.logQuery(query, logActionQuery, time.Since(start))
	if err != nil {
		d.logFailure(query, err)
	}
	return err
}

// Insert runs an INSERT and returns the generated value of idColumn.
func (d *Database) Insert(ctx context.Context, ds *goqu.InsertDataset, idColumn string) (int64, error) {
	if d.dialect == dialectPostgres {
		var id int64
		query, args, err := d.render(ds.Returning(goqu.C(idColumn)))
		if err != nil {
			return 0, err
		}
		start := time.Now()
		err = d.q.GetContext(ctx, &id, query, args...)
		d.logQuery(query, logActionInsert, time.Since(start))
		if err != nil {
			d.logFailure(query, err)
			return 0, err
		}
		return id, nil
	}

	query, args, err := d.render(ds)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	res, err := d.q.ExecContext(ctx, query, args...)
	d.logQuery(query, logActionInsert, time.Since(start))
	if err != nil {
		d.logFailure(query, err)
		return 0, err
	}
	return res.LastInsertId()
}

// Exists reports whether table holds at least one row matching where.
func (d *Database) Exists(ctx context.Context, table string, where goqu.Ex) (bool, error) {
	n, err := d.Count(ctx, table, where)
	return n > 0, err
}

// Count returns the number of rows in table matching where.
func (d *Database) Count(ctx context.Context, table string, where goqu.Ex) (int64, error) {
	var n int64
	err := d.Get(ctx, &n, d.From(table).Select(goqu.COUNT(goqu.Star())).Where(where))
	return n, err
}

// InTx runs fn against a Database bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Nested
// calls reuse the outer transaction.
func (d *Database) InTx(ctx context.Context, fn func(tx *Database) error) error {
	if d.inTx {
		return fn(d)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && d.logger != nil {
			d.logger.Warn(logMsgRollbackFailed, logAttrError, rbErr.Error())
		}
	}()

	inner := *d
	inner.q = tx
	inner.inTx = true
	if err := fn(&inner); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) render(stmt Statement) (string, []any, error) {
	query, args, err := stmt.ToSQL()
	if err != nil {
		if d.logger != nil {
			d.logger.Error(logMsgBuildFailed, logAttrError, err.Error())
		}
		return "", nil, err
	}
	return query, args, nil
}

func (d *Database) logQuery(query, action string, duration time.Duration) {
	if d.logger == nil {
		return
	}
	d.logger.Debug(logMsgSQLExecuted+action,
		logAttrQuery, query,
		logAttrDurationMS, float64(duration.Microseconds())/1000.0)
}

func (d *Database) logFailure(query string, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Error(logMsgSQLFailed, logAttrError, err.Error(), logAttrQuery, query)
}
