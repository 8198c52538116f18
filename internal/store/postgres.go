package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	room       TEXT PRIMARY KEY,
	state      BYTEA NOT NULL,
	fields     JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS history (
	id         UUID PRIMARY KEY,
	room       TEXT NOT NULL,
	author     BIGINT NOT NULL,
	update     BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS history_room_idx ON history (room, created_at);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and creates the tables if needed.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Load implements Store.
func (s *Postgres) Load(ctx context.Context, room string) (Snapshot, error) {
	var (
		snap   Snapshot
		fields []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, fields FROM documents WHERE room = $1`, room,
	).Scan(&snap.State, &fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", room, err)
	}
	if err := json.Unmarshal(fields, &snap.Fields); err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", room, err)
	}
	return snap, nil
}

// Save implements Store.
func (s *Postgres) Save(ctx context.Context, room string, snap Snapshot, history []HistoryEntry) error {
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("save %s: %w", room, err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (room, state, fields, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (room) DO UPDATE
			SET state = EXCLUDED.state, fields = EXCLUDED.fields, updated_at = now()`,
			room, snap.State, fields)
		if err != nil {
			return fmt.Errorf("save %s: %w", room, err)
		}
		batch := &pgx.Batch{}
		for _, h := range history {
			batch.Queue(`INSERT INTO history (id, room, author, update, created_at) VALUES ($1, $2, $3, $4, $5)`,
				h.ID, room, int64(h.Author), h.Update, h.Time)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save %s history: %w", room, err)
		}
		return nil
	})
}

// History implements Store.
func (s *Postgres) History(ctx context.Context, room string) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, room, author, update, created_at FROM history WHERE room = $1 ORDER BY created_at, id`, room)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", room, err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var (
			h      HistoryEntry
			author int64
		)
		if err := rows.Scan(&h.ID, &h.Room, &author, &h.Update, &h.Time); err != nil {
			return nil, fmt.Errorf("history %s: %w", room, err)
		}
		h.Author = uint32(author)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
