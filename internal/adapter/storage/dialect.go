package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	// registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect captures what differs between the SQL backends of the ledger.
type Dialect struct {
	Name       string
	DriverName string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	schema   []string
	unique   func(error) bool
}

const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

var MySQL = Dialect{
	Name:       "mysql",
	DriverName: "mysql",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS part_records (
			id             VARCHAR(64)  NOT NULL PRIMARY KEY,
			nxid           VARCHAR(64)  NOT NULL,
			serial         VARCHAR(128) NULL,
			container_kind VARCHAR(16)  NOT NULL,
			container_id   VARCHAR(128) NOT NULL,
			building       INT          NOT NULL DEFAULT 0,
			by_actor       VARCHAR(128) NOT NULL DEFAULT '',
			date_created   BIGINT       NOT NULL,
			date_replaced  BIGINT       NULL,
			prev_id        VARCHAR(64)  NULL,
			next_id        VARCHAR(64)  NULL,
			buy_price      DECIMAL(12,2) NULL,
			sale_price     DECIMAL(12,2) NULL,
			ebay_order     VARCHAR(64)  NOT NULL DEFAULT '',
			active_serial  VARCHAR(200) GENERATED ALWAYS AS (IF(next_id IS NULL, CONCAT(nxid, '/', serial), NULL)) STORED,
			UNIQUE KEY part_records_active_serial (active_serial),
			KEY part_records_container (container_kind, container_id, next_id),
			KEY part_records_nxid_open (nxid, next_id, date_created),
			KEY part_records_created (date_created),
			KEY part_records_replaced (date_replaced)
		)`, `
		CREATE TABLE IF NOT EXISTS container_versions (
			id             VARCHAR(64)  NOT NULL PRIMARY KEY,
			container_kind VARCHAR(16)  NOT NULL,
			container_id   VARCHAR(128) NOT NULL,
			building       INT          NOT NULL DEFAULT 0,
			by_actor       VARCHAR(128) NOT NULL DEFAULT '',
			date_created   BIGINT       NOT NULL,
			date_replaced  BIGINT       NULL,
			prev_id        VARCHAR(64)  NULL,
			next_id        VARCHAR(64)  NULL,
			KEY container_versions_container (container_kind, container_id)
		)`,
	},
	unique: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
	},
}

var Postgres = Dialect{
	Name:       "postgres",
	DriverName: "pgx",
	numbered:   true,
	schema: append([]string{`
		CREATE TABLE IF NOT EXISTS part_records (
			id             TEXT PRIMARY KEY,
			nxid           TEXT NOT NULL,
			serial         TEXT NULL,
			container_kind TEXT NOT NULL,
			container_id   TEXT NOT NULL,
			building       INTEGER NOT NULL DEFAULT 0,
			by_actor       TEXT NOT NULL DEFAULT '',
			date_created   BIGINT NOT NULL,
			date_replaced  BIGINT NULL,
			prev_id        TEXT NULL,
			next_id        TEXT NULL,
			buy_price      NUMERIC(12,2) NULL,
			sale_price     NUMERIC(12,2) NULL,
			ebay_order     TEXT NOT NULL DEFAULT ''
		)`, `
		CREATE TABLE IF NOT EXISTS container_versions (
			id             TEXT PRIMARY KEY,
			container_kind TEXT NOT NULL,
			container_id   TEXT NOT NULL,
			building       INTEGER NOT NULL DEFAULT 0,
			by_actor       TEXT NOT NULL DEFAULT '',
			date_created   BIGINT NOT NULL,
			date_replaced  BIGINT NULL,
			prev_id        TEXT NULL,
			next_id        TEXT NULL
		)`,
	}, partialIndexes...),
	unique: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == pgUniqueViolation
	},
}

var SQLite = Dialect{
	Name:       "sqlite",
	DriverName: "sqlite",
	schema: append([]string{`
		CREATE TABLE IF NOT EXISTS part_records (
			id             TEXT PRIMARY KEY,
			nxid           TEXT NOT NULL,
			serial         TEXT NULL,
			container_kind TEXT NOT NULL,
			container_id   TEXT NOT NULL,
			building       INTEGER NOT NULL DEFAULT 0,
			by_actor       TEXT NOT NULL DEFAULT '',
			date_created   INTEGER NOT NULL,
			date_replaced  INTEGER NULL,
			prev_id        TEXT NULL,
			next_id        TEXT NULL,
			buy_price      TEXT NULL,
			sale_price     TEXT NULL,
			ebay_order     TEXT NOT NULL DEFAULT ''
		)`, `
		CREATE TABLE IF NOT EXISTS container_versions (
			id             TEXT PRIMARY KEY,
			container_kind TEXT NOT NULL,
			container_id   TEXT NOT NULL,
			building       INTEGER NOT NULL DEFAULT 0,
			by_actor       TEXT NOT NULL DEFAULT '',
			date_created   INTEGER NOT NULL,
			date_replaced  INTEGER NULL,
			prev_id        TEXT NULL,
			next_id        TEXT NULL
		)`,
	}, partialIndexes...),
	unique: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

// partialIndexes are shared by the dialects that support CREATE INDEX IF NOT
// EXISTS with a WHERE clause.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS part_records_active_serial
		ON part_records (nxid, serial) WHERE next_id IS NULL AND serial IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS part_records_container ON part_records (container_kind, container_id, next_id)`,
	`CREATE INDEX IF NOT EXISTS part_records_nxid_open ON part_records (nxid, next_id, date_created)`,
	`CREATE INDEX IF NOT EXISTS part_records_created ON part_records (date_created)`,
	`CREATE INDEX IF NOT EXISTS part_records_replaced ON part_records (date_replaced)`,
	`CREATE INDEX IF NOT EXISTS container_versions_container ON container_versions (container_kind, container_id)`,
}

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, bool) {
	switch strings.ToLower(driver) {
	case "mysql":
		return MySQL, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	}
	return Dialect{}, false
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
