package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/doug-martin/goqu/v9"
)

const (
	tableMeta        = "meta"
	tableUsers       = "users"
	tableBooks       = "books"
	tableInstances   = "instances"
	tableOccupations = "occupations"

	colUID        = "uid"
	colUsername   = "username"
	colEmail      = "email"
	colInfo       = "info"
	colBID        = "bid"
	colTitle      = "title"
	colAuthor     = "author"
	colIID        = "iid"
	colStatus     = "status"
	colSeq        = "seq"
	colOccupiedOn = "occupied_on"
	colKind       = "kind"
	colKey        = "key"
	colValue      = "value"
)

const schemaVersion = 1

var ledgerTables = []string{tableUsers, tableBooks, tableInstances, tableOccupations}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        uid INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL UNIQUE,
        email TEXT NOT NULL UNIQUE,
        info TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        bid INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        info TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS instances (
        iid INTEGER PRIMARY KEY AUTOINCREMENT,
        bid INTEGER NOT NULL REFERENCES books(bid),
        status INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS occupations (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        uid INTEGER NOT NULL REFERENCES users(uid),
        iid INTEGER NOT NULL UNIQUE REFERENCES instances(iid),
        occupied_on TEXT NOT NULL,
        kind INTEGER NOT NULL CHECK (kind IN (0, 1, 2))
    );`,
	`CREATE INDEX IF NOT EXISTS idx_occupations_uid ON occupations(uid, kind);`,
	`CREATE INDEX IF NOT EXISTS idx_instances_bid ON instances(bid);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        uid BIGSERIAL PRIMARY KEY,
        username VARCHAR(512) NOT NULL UNIQUE,
        email VARCHAR(512) NOT NULL UNIQUE,
        info TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        bid BIGSERIAL PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        info TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS instances (
        iid BIGSERIAL PRIMARY KEY,
        bid BIGINT NOT NULL REFERENCES books(bid),
        status BIGINT NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS occupations (
        seq BIGSERIAL PRIMARY KEY,
        uid BIGINT NOT NULL REFERENCES users(uid),
        iid BIGINT NOT NULL UNIQUE REFERENCES instances(iid),
        occupied_on TEXT NOT NULL,
        kind SMALLINT NOT NULL CHECK (kind IN (0, 1, 2))
    );`,
	`CREATE INDEX IF NOT EXISTS idx_occupations_uid ON occupations(uid, kind);`,
	`CREATE INDEX IF NOT EXISTS idx_instances_bid ON instances(bid);`,
}

// Provision creates the ledger tables when the recorded schema version is
// older than the current one. It is idempotent.
func (d *Database) Provision(ctx context.Context) error {
	if d.dialect == dialectSQLite3 {
		// WAL improves write concurrency.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	current, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	stmts := sqliteSchema
	if d.dialect == dialectPostgres {
		stmts = postgresSchema
	}

	return d.InTx(ctx, func(tx *Database) error {
		for _, stmt := range stmts {
			if _, err := tx.q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, tx.DeleteFrom(tableMeta).Where(goqu.C(colKey).Eq("schema_version"))); err != nil {
			return fmt.Errorf("clear schema version: %w", err)
		}
		row := goqu.Record{colKey: "schema_version", colValue: strconv.Itoa(schemaVersion)}
		if _, err := tx.Exec(ctx, tx.InsertInto(tableMeta).Rows(row)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the provisioned schema version, 0 when none.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var value string
	err := d.Get(ctx, &value, d.From(tableMeta).Select(colValue).Where(goqu.C(colKey).Eq("schema_version")))
	if err != nil {
		// Missing row and missing table both mean "not provisioned".
		return 0, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}

// CheckSchema verifies that every ledger table exists.
func (d *Database) CheckSchema(ctx context.Context) error {
	for _, table := range ledgerTables {
		var ds *goqu.SelectDataset
		if d.dialect == dialectPostgres {
			ds = d.From(goqu.S("information_schema").Table("tables")).
				Select(goqu.COUNT(goqu.Star())).
				Where(goqu.Ex{"table_name": table, "table_schema": goqu.L("current_schema()")})
		} else {
			ds = d.From("sqlite_master").
				Select(goqu.COUNT(goqu.Star())).
				Where(goqu.Ex{"type": "table", "name": table})
		}
		var n int64
		if err := d.Get(ctx, &n, ds); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n != 1 {
			return errors.Join(ErrSchemaMissing, fmt.Errorf("table %q does not exist", table))
		}
	}
	return nil
}

// DropSchema removes the ledger and meta tables.
func (d *Database) DropSchema(ctx context.Context) error {
	tables := []string{tableOccupations, tableInstances, tableBooks, tableUsers, tableMeta}
	return d.InTx(ctx, func(tx *Database) error {
		for _, table := range tables {
			if _, err := tx.q.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
		return nil
	})
}

// RemoveSQLiteFiles deletes a SQLite database file together with its WAL
// side files. Missing files are not an error.
func RemoveSQLiteFiles(path string) error {
	for _, file := range []string{path, path + "-shm", path + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", file, err)
		}
	}
	return nil
}
