package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	closed_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS room_participants (
	room_id   TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	client_id TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL,
	left_at   TIMESTAMPTZ,
	PRIMARY KEY (room_id, client_id, joined_at)
);
CREATE INDEX IF NOT EXISTS room_participants_present_idx
	ON room_participants (room_id) WHERE left_at IS NULL;
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// CloseStale marks rooms and participants left open by a previous process as
// closed. Live state does not survive a restart.
func (p *Postgres) CloseStale(ctx context.Context, at time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE room_participants SET left_at = $1 WHERE left_at IS NULL`, at); err != nil {
		return fmt.Errorf("%w: close stale participants: %v", ErrPersistenceUnavailable, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET closed_at = $1 WHERE closed_at IS NULL`, at); err != nil {
		return fmt.Errorf("%w: close stale rooms: %v", ErrPersistenceUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

func (p *Postgres) CreateRoom(ctx context.Context, id, name string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, created_at = EXCLUDED.created_at, closed_at = NULL`,
		id, name, at)
	if err != nil {
		return fmt.Errorf("%w: create room %q: %v", ErrPersistenceUnavailable, id, err)
	}
	return nil
}

func (p *Postgres) CloseRoom(ctx context.Context, id string, at time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE room_participants SET left_at = $2 WHERE room_id = $1 AND left_at IS NULL`, id, at); err != nil {
		return fmt.Errorf("%w: close room %q: %v", ErrPersistenceUnavailable, id, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET closed_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("%w: close room %q: %v", ErrPersistenceUnavailable, id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: close room %q: %v", ErrPersistenceUnavailable, id, err)
	}
	return nil
}

func (p *Postgres) AddParticipant(ctx context.Context, roomID, clientID string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO room_participants (room_id, client_id, joined_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		roomID, clientID, at)
	if err != nil {
		return fmt.Errorf("%w: add participant %q to %q: %v", ErrPersistenceUnavailable, clientID, roomID, err)
	}
	return nil
}

func (p *Postgres) MarkParticipantLeft(ctx context.Context, roomID, clientID string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE room_participants SET left_at = $3 WHERE room_id = $1 AND client_id = $2 AND left_at IS NULL`,
		roomID, clientID, at)
	if err != nil {
		return fmt.Errorf("%w: mark participant %q left %q: %v", ErrPersistenceUnavailable, clientID, roomID, err)
	}
	return nil
}

func (p *Postgres) ActiveRooms(ctx context.Context) ([]RoomRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.id, r.name, r.created_at, COUNT(pt.client_id) FILTER (WHERE pt.left_at IS NULL)
		FROM rooms r
		LEFT JOIN room_participants pt ON pt.room_id = r.id
		WHERE r.closed_at IS NULL
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("%w: active rooms: %v", ErrPersistenceUnavailable, err)
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		var (
			rec   RoomRecord
			count int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &count); err != nil {
			return nil, fmt.Errorf("%w: scan room: %v", ErrPersistenceUnavailable, err)
		}
		rec.Participants = int(count)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: active rooms: %v", ErrPersistenceUnavailable, err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
