// Package pgstore is a store.Store kept in a PostgreSQL table.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ASHISH26940/chaindb/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS version_records (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	value      TEXT NULL,
	active     BOOLEAN NOT NULL,
	previous   TEXT NOT NULL DEFAULT '',
	next       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS version_records_name_active ON version_records (name, active, seq DESC);
`

const columns = `id, seq, name, value, active, previous, next, created_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a store.Store backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger hclog.Logger
}

// Open connects to dsn and makes sure the records table exists.
func Open(ctx context.Context, dsn string, logger hclog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool, logger: logger.Named("pgstore")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Insert(ctx context.Context, rec store.VersionRecord) (store.VersionRecord, error) {
	return insert(ctx, s.pool, rec)
}

func (s *Store) Get(ctx context.Context, id string) (store.VersionRecord, error) {
	return get(ctx, s.pool, id)
}

func (s *Store) Update(ctx context.Context, id string, c store.Changes) error {
	return update(ctx, s.pool, id, c)
}

func (s *Store) Scan(ctx context.Context, f store.Filter) ([]store.VersionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != nil {
		args = append(args, *f.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}
	if f.Value != nil {
		args = append(args, *f.Value)
		where = append(where, fmt.Sprintf("value = $%d", len(args)))
	}

	q := "SELECT " + columns + " FROM version_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	out := make([]store.VersionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteAll removes every row. DELETE keeps the seq sequence running, unlike TRUNCATE ... RESTART.
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM version_records")
	return err
}

// Batch runs fn inside one database transaction.
func (s *Store) Batch(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollbackOrCommit(ctx, tx, &err)

	return fn(&pgTx{ctx: ctx, tx: tx})
}

// Import writes records verbatim and moves the seq sequence past them.
func (s *Store) Import(ctx context.Context, recs []store.VersionRecord) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollbackOrCommit(ctx, tx, &err)

	for _, rec := range recs {
		_, err = tx.Exec(ctx, `
			INSERT INTO version_records (`+columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, next = EXCLUDED.next
		`, rec.ID, int64(rec.Seq), rec.Name, rec.Value, rec.Active, rec.Previous, rec.Next, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("import record %s: %w", rec.ID, err)
		}
	}
	_, err = tx.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('version_records', 'seq'),
			GREATEST((SELECT COALESCE(MAX(seq), 0) FROM version_records), 1))
	`)
	return err
}

func (s *Store) rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("transaction rollback failed", "error", rbErr, "cause", *err)
		}
		return
	}
	if cmErr := tx.Commit(ctx); cmErr != nil {
		*err = fmt.Errorf("commit failed: %w", cmErr)
	}
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) Insert(rec store.VersionRecord) (store.VersionRecord, error) {
	return insert(t.ctx, t.tx, rec)
}

func (t *pgTx) Get(id string) (store.VersionRecord, error) {
	return get(t.ctx, t.tx, id)
}

func (t *pgTx) Update(id string, c store.Changes) error {
	return update(t.ctx, t.tx, id, c)
}

func insert(ctx context.Context, q querier, rec store.VersionRecord) (store.VersionRecord, error) {
	rec.ID = uuid.NewString()
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO version_records (id, name, value, active, previous, next)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, created_at
	`, rec.ID, rec.Name, rec.Value, rec.Active, rec.Previous, rec.Next).Scan(&seq, &rec.CreatedAt)
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("insert record: %w", err)
	}
	rec.Seq = uint64(seq)
	return rec, nil
}

func get(ctx context.Context, q querier, id string) (store.VersionRecord, error) {
	rec, err := scanRecord(q.QueryRow(ctx, "SELECT "+columns+" FROM version_records WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.VersionRecord{}, store.ErrNotFound
	}
	return rec, err
}

func update(ctx context.Context, q querier, id string, c store.Changes) error {
	tag, err := q.Exec(ctx, `
		UPDATE version_records
		SET active = COALESCE($2, active), next = COALESCE($3, next)
		WHERE id = $1
	`, id, c.Active, c.Next)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (store.VersionRecord, error) {
	var (
		rec       store.VersionRecord
		seq       int64
		createdAt time.Time
	)
	if err := row.Scan(&rec.ID, &seq, &rec.Name, &rec.Value, &rec.Active, &rec.Previous, &rec.Next, &createdAt); err != nil {
		return store.VersionRecord{}, err
	}
	rec.Seq = uint64(seq)
	rec.CreatedAt = createdAt
	return rec, nil
}
