// Package store is the pgx-backed record.Store. The catalog order comes
// from a bigserial sequence; uniqueness is decided by the insert itself and
// resolution runs in a row-locked transaction so the result/resolved flip is
// exactly-once under concurrent attempts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilcase/veilcase/pkg/fhe"
	"github.com/veilcase/veilcase/pkg/record"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS records(
  seq               bigserial,
  identifier        text PRIMARY KEY,
  owner_id          text NOT NULL,
  ciphertext_handle text NOT NULL,
  result            bigint NOT NULL DEFAULT 0,
  resolved          boolean NOT NULL DEFAULT false,
  created_at        timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS record_events(
  event_id   bigserial PRIMARY KEY,
  identifier text NOT NULL,
  type       text NOT NULL,
  owner_id   text NOT NULL DEFAULT '',
  result     bigint NOT NULL DEFAULT 0,
  at         timestamptz NOT NULL
);
`)
	return err
}

func (s *Store) CreateRecord(ctx context.Context, rec record.Record) error {
	if err := record.Validate(rec); err != nil {
		return err
	}
	var id string
	err := s.DB.QueryRow(ctx, `
INSERT INTO records(identifier,owner_id,ciphertext_handle,resolved,created_at)
VALUES($1,$2,$3,false,$4)
ON CONFLICT (identifier) DO NOTHING
RETURNING identifier
`, rec.Identifier, rec.Owner, string(rec.Ciphertext), rec.CreatedAt.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.ErrDuplicateIdentifier
	}
	return err
}

func (s *Store) ResolveRecord(ctx context.Context, identifier string, result uint32) (record.Record, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return record.Record{}, err
	}
	defer tx.Rollback(ctx)

	rec, err := scanRecord(tx.QueryRow(ctx, `
SELECT identifier,owner_id,ciphertext_handle,result,resolved,created_at
FROM records
WHERE identifier=$1
FOR UPDATE
`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	if err != nil {
		return record.Record{}, err
	}
	if rec.Resolved {
		return record.Record{}, record.ErrAlreadyResolved
	}

	if _, err := tx.Exec(ctx, `
UPDATE records SET result=$2, resolved=true WHERE identifier=$1
`, identifier, int64(result)); err != nil {
		return record.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return record.Record{}, err
	}
	rec.Result = result
	rec.Resolved = true
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, identifier string) (record.Record, error) {
	rec, err := scanRecord(s.DB.QueryRow(ctx, `
SELECT identifier,owner_id,ciphertext_handle,result,resolved,created_at
FROM records
WHERE identifier=$1
`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT identifier FROM records ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Emit(ctx context.Context, ev record.Event) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO record_events(identifier,type,owner_id,result,at)
VALUES($1,$2,$3,$4,$5)
`, ev.Identifier, ev.Type, ev.Owner, int64(ev.Result), ev.At.UTC())
	return err
}

func (s *Store) Events(ctx context.Context, identifier string) ([]record.Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT type,identifier,owner_id,result,at
FROM record_events
WHERE identifier=$1
ORDER BY event_id ASC
`, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []record.Event
	for rows.Next() {
		var ev record.Event
		var result int64
		var at time.Time
		if err := rows.Scan(&ev.Type, &ev.Identifier, &ev.Owner, &result, &at); err != nil {
			return nil, err
		}
		ev.Result = uint32(result)
		ev.At = at.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.Record, error) {
	var rec record.Record
	var handle string
	var result int64
	if err := row.Scan(&rec.Identifier, &rec.Owner, &handle, &result, &rec.Resolved, &rec.CreatedAt); err != nil {
		return record.Record{}, err
	}
	rec.Ciphertext = fhe.Handle(handle)
	rec.Result = uint32(result)
	return rec, nil
}
