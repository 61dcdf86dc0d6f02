// Package postgres mirrors accepted session history into Postgres. The file
// store remains the source of truth on-device; the archive exists for
// long-term history on households that run the relay server.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
)

// Archive provides Postgres-backed persistence for completed sessions.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive constructs an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// EnsureSchema creates the archive table when it does not exist yet.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS session_archive (
        session_id   TEXT PRIMARY KEY,
        started_at   TIMESTAMPTZ NOT NULL,
        ended_at     TIMESTAMPTZ NOT NULL,
        duration_sec DOUBLE PRECISION NOT NULL,
        document     JSONB NOT NULL,
        archived_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, stmt)
	return err
}

// SaveSession stores the session document. Conflicts on the session ID are
// ignored, matching the append-only, dedup-by-id history semantics.
func (a *Archive) SaveSession(ctx context.Context, session domain.Session) error {
	document, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO session_archive (session_id, started_at, ended_at, duration_sec, document)
         VALUES ($1,$2,$3,$4,$5)
         ON CONFLICT (session_id) DO NOTHING`,
		session.ID,
		session.Start,
		session.End,
		session.DurationSec,
		document,
	)
	return err
}

// GetSession fetches one archived session by ID, or nil when absent.
func (a *Archive) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT document FROM session_archive WHERE session_id=$1`, sessionID)
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(document, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// ListSessions returns archived sessions newest-first, bounded by limit.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT document FROM session_archive ORDER BY started_at DESC, session_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0, limit)
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		var session domain.Session
		if err := json.Unmarshal(document, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// PruneBefore deletes archive entries older than the cutoff and returns the
// number of rows removed.
func (a *Archive) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM session_archive WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
