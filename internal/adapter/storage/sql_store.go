package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

var (
	_ port.LedgerStore      = (*SQLStore)(nil)
	_ port.ContainerHistory = (*SQLStore)(nil)
)

const recordColumns = `id, nxid, serial, container_kind, container_id, building, by_actor,
	date_created, date_replaced, prev_id, next_id, buy_price, sale_price, ebay_order`

// SQLStore persists the ledger through database/sql. Timestamps are stored as
// unix microseconds so equality holds across backends.
type SQLStore struct {
	db *sql.DB
	d  Dialect
}

func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

// OpenSQLStore opens and pings a database for the named driver.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := DialectFor(driver)
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return NewSQLStore(db, d), nil
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() Dialect { return s.d }

// Migrate creates tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.Name, err)
		}
	}
	return nil
}

// Shutdown closes the underlying database handle.
func (s *SQLStore) Shutdown() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) Create(ctx context.Context, rec domain.PartRecord) error {
	return s.insert(ctx, s.db, rec)
}

func (s *SQLStore) insert(ctx context.Context, ex execer, rec domain.PartRecord) error {
	_, err := ex.ExecContext(ctx, s.d.rebind(`
		INSERT INTO part_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.NXID, nullString(rec.Serial), string(rec.Container.Kind), rec.Container.ID,
		rec.Building, rec.By, toMicros(rec.DateCreated), nullMicros(rec.DateReplaced),
		nullString(rec.Prev), nullString(rec.Next), rec.BuyPrice, rec.SalePrice, rec.EbayOrder,
	)
	if err != nil {
		if s.d.unique(err) {
			return fmt.Errorf("insert %s: %w", rec.ID, domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("insert part record: %w", err)
	}
	return nil
}

// Close is a single conditional update; a zero row count means another writer
// closed the record first or it never existed.
func (s *SQLStore) Close(ctx context.Context, id, next string, at time.Time) error {
	return s.closeRecord(ctx, s.db, id, next, at)
}

func (s *SQLStore) closeRecord(ctx context.Context, ex execer, id, next string, at time.Time) error {
	result, err := ex.ExecContext(ctx, s.d.rebind(`
		UPDATE part_records
		SET next_id = ?, date_replaced = ?
		WHERE id = ? AND next_id IS NULL`),
		next, toMicros(at), id,
	)
	if err != nil {
		return fmt.Errorf("close part record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close part record: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var one int
	err = ex.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM part_records WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("part record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check part record: %w", err)
	}
	return domain.ErrConcurrencyConflict
}

func (s *SQLStore) Replace(ctx context.Context, reps []domain.Replacement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rep := range reps {
		if rep.PredecessorID != "" {
			if err := s.closeRecord(ctx, tx, rep.PredecessorID, rep.Successor.ID, rep.Successor.DateCreated); err != nil {
				return err
			}
		}
		if err := s.insert(ctx, tx, rep.Successor); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id string) (domain.PartRecord, error) {
	recs, err := s.query(ctx, `SELECT `+recordColumns+` FROM part_records WHERE id = ?`, id)
	if err != nil {
		return domain.PartRecord{}, err
	}
	if len(recs) == 0 {
		return domain.PartRecord{}, domain.ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLStore) FindActive(ctx context.Context, f domain.RecordFilter, limit int) ([]domain.PartRecord, error) {
	where, args := filterClause(f, "next_id IS NULL")
	q := `SELECT ` + recordColumns + ` FROM part_records WHERE ` + where + ` ORDER BY date_created, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *SQLStore) CountActive(ctx context.Context, f domain.RecordFilter) (int, error) {
	where, args := filterClause(f, "next_id IS NULL")
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM part_records WHERE `+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

func (s *SQLStore) FindAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	where, args := filterClause(f, "date_created <= ?", "(date_replaced IS NULL OR date_replaced > ?)")
	args = append(args, toMicros(t), toMicros(t))
	return s.query(ctx, `SELECT `+recordColumns+` FROM part_records WHERE `+where+` ORDER BY date_created, id`, args...)
}

func (s *SQLStore) FindCreatedAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	where, args := filterClause(f, "date_created = ?")
	args = append(args, toMicros(t))
	return s.query(ctx, `SELECT `+recordColumns+` FROM part_records WHERE `+where+` ORDER BY id`, args...)
}

func (s *SQLStore) FindReplacedAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	where, args := filterClause(f, "date_replaced = ?")
	args = append(args, toMicros(t))
	return s.query(ctx, `SELECT `+recordColumns+` FROM part_records WHERE `+where+` ORDER BY id`, args...)
}

func (s *SQLStore) EventTimes(ctx context.Context, f domain.RecordFilter) ([]time.Time, error) {
	created, args := filterClause(f)
	replaced, args2 := filterClause(f, "date_replaced IS NOT NULL")
	q := `SELECT date_created AS t FROM part_records WHERE ` + created +
		` UNION SELECT date_replaced AS t FROM part_records WHERE ` + replaced +
		` ORDER BY t`
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), append(args, args2...)...)
	if err != nil {
		return nil, fmt.Errorf("query event times: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var us int64
		if err := rows.Scan(&us); err != nil {
			return nil, fmt.Errorf("scan event time: %w", err)
		}
		out = append(out, fromMicros(us))
	}
	return out, rows.Err()
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]domain.PartRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query part records: %w", err)
	}
	defer rows.Close()

	var out []domain.PartRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate part records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (domain.PartRecord, error) {
	var (
		rec                 domain.PartRecord
		serial, prev, next  sql.NullString
		kind                string
		created             int64
		replaced            sql.NullInt64
		buyPrice, salePrice decimal.NullDecimal
	)
	err := rows.Scan(&rec.ID, &rec.NXID, &serial, &kind, &rec.Container.ID, &rec.Building, &rec.By,
		&created, &replaced, &prev, &next, &buyPrice, &salePrice, &rec.EbayOrder)
	if err != nil {
		return domain.PartRecord{}, fmt.Errorf("scan part record: %w", err)
	}
	rec.Serial = serial.String
	rec.Container.Kind = domain.ContainerKind(kind)
	rec.DateCreated = fromMicros(created)
	if replaced.Valid {
		t := fromMicros(replaced.Int64)
		rec.DateReplaced = &t
	}
	rec.Prev = prev.String
	rec.Next = next.String
	rec.BuyPrice = buyPrice
	rec.SalePrice = salePrice
	return rec, nil
}

// filterClause renders f plus extra conditions as a WHERE body with ? placeholders.
func filterClause(f domain.RecordFilter, extra ...string) (string, []any) {
	var conds []string
	var args []any
	if f.NXID != "" {
		conds = append(conds, "nxid = ?")
		args = append(args, f.NXID)
	}
	if f.Container != nil {
		conds = append(conds, "container_kind = ?", "container_id = ?")
		args = append(args, string(f.Container.Kind), f.Container.ID)
	}
	if f.Building != 0 {
		conds = append(conds, "building = ?")
		args = append(args, f.Building)
	}
	switch {
	case f.Serial != "":
		conds = append(conds, "serial = ?")
		args = append(args, f.Serial)
	case f.FungibleOnly:
		conds = append(conds, "serial IS NULL")
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return "1 = 1", args
	}
	return strings.Join(conds, " AND "), args
}

func (s *SQLStore) AppendContainerVersion(ctx context.Context, v domain.ContainerVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if v.Prev != "" {
		result, err := tx.ExecContext(ctx, s.d.rebind(`
			UPDATE container_versions SET next_id = ?, date_replaced = ?
			WHERE id = ? AND next_id IS NULL`),
			v.ID, toMicros(v.DateCreated), v.Prev,
		)
		if err != nil {
			return fmt.Errorf("close container version: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return domain.ErrConcurrencyConflict
		}
	}
	_, err = tx.ExecContext(ctx, s.d.rebind(`
		INSERT INTO container_versions
			(id, container_kind, container_id, building, by_actor, date_created, date_replaced, prev_id, next_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ID, string(v.Container.Kind), v.Container.ID, v.Building, v.By,
		toMicros(v.DateCreated), nullMicros(v.DateReplaced), nullString(v.Prev), nullString(v.Next),
	)
	if err != nil {
		return fmt.Errorf("insert container version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) ContainerVersions(ctx context.Context, c domain.Container) ([]domain.ContainerVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, building, by_actor, date_created, date_replaced, prev_id, next_id
		FROM container_versions
		WHERE container_kind = ? AND container_id = ?
		ORDER BY date_created, id`),
		string(c.Kind), c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query container versions: %w", err)
	}
	defer rows.Close()

	var out []domain.ContainerVersion
	for rows.Next() {
		var (
			v          = domain.ContainerVersion{Container: c}
			created    int64
			replaced   sql.NullInt64
			prev, next sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Building, &v.By, &created, &replaced, &prev, &next); err != nil {
			return nil, fmt.Errorf("scan container version: %w", err)
		}
		v.DateCreated = fromMicros(created)
		if replaced.Valid {
			t := fromMicros(replaced.Int64)
			v.DateReplaced = &t
		}
		v.Prev, v.Next = prev.String, next.String
		out = append(out, v)
	}
	return out, rows.Err()
}

func toMicros(t time.Time) int64 { return domain.Timestamp(t).UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
