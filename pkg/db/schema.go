package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is one versioned, in-code schema change. Migrations run in
// order and are tracked in prepd_schema_migrations so re-runs are no-ops.
type migration struct {
	Version string
	Name    string
	SQL     string
}

// migrations is the ordered schema history for prepd. Append only; never
// edit an applied entry.
var migrations = []migration{
	{
		Version: "001",
		Name:    "create_users",
		SQL: `
CREATE TABLE IF NOT EXISTS users (
    user_id            TEXT PRIMARY KEY,
    email              TEXT NOT NULL,
    name               TEXT NOT NULL DEFAULT '',
    phone_number       TEXT NOT NULL DEFAULT '',
    timezone           TEXT NOT NULL DEFAULT 'UTC',
    calendar_connected BOOLEAN NOT NULL DEFAULT FALSE,
    channels           TEXT[] NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_calendar_connected
    ON users (calendar_connected) WHERE calendar_connected;
`,
	},
	{
		Version: "002",
		Name:    "create_meetings",
		SQL: `
CREATE TABLE IF NOT EXISTS meetings (
    meeting_id           TEXT PRIMARY KEY,
    external_id          TEXT NOT NULL,
    user_id              TEXT NOT NULL REFERENCES users (user_id),
    source               TEXT NOT NULL DEFAULT 'manual',
    title                TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    location             TEXT NOT NULL DEFAULT '',
    start_time           TIMESTAMPTZ NOT NULL,
    end_time             TIMESTAMPTZ NOT NULL,
    attendees            TEXT[] NOT NULL DEFAULT '{}',
    organizer            TEXT NOT NULL DEFAULT '',
    meeting_type         TEXT NOT NULL DEFAULT 'unknown',
    status               TEXT NOT NULL DEFAULT 'discovered',
    prep_trigger_time    TIMESTAMPTZ,
    prep_hours_before    INT NOT NULL DEFAULT 0,
    notification_id      TEXT NOT NULL DEFAULT '',
    notification_sent_at TIMESTAMPTZ,
    chat_session_id      TEXT NOT NULL DEFAULT '',
    materials_ref        TEXT NOT NULL DEFAULT '',
    dispatch_attempts    INT NOT NULL DEFAULT 0,
    needs_follow_up      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_synced_at       TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_meetings_user_external
    ON meetings (user_id, external_id);
CREATE INDEX IF NOT EXISTS idx_meetings_user_start
    ON meetings (user_id, start_time);
`,
	},
	{
		Version: "003",
		Name:    "create_chat_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id   TEXT PRIMARY KEY,
    meeting_id   TEXT NOT NULL REFERENCES meetings (meeting_id),
    user_id      TEXT NOT NULL,
    state        TEXT NOT NULL DEFAULT 'created',
    resume_token TEXT NOT NULL,
    responses    JSONB NOT NULL DEFAULT '{}',
    expires_at   TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_chat_sessions_resume_token
    ON chat_sessions (resume_token);
-- At most one non-terminal session per meeting.
CREATE UNIQUE INDEX IF NOT EXISTS ux_chat_sessions_open_meeting
    ON chat_sessions (meeting_id)
    WHERE state NOT IN ('completed', 'expired', 'cancelled');
`,
	},
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS prepd_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT version FROM prepd_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate applied migrations: %w", err)
	}

	var ran []string
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return ran, fmt.Errorf("failed to begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return ran, fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO prepd_schema_migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return ran, fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return ran, fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		ran = append(ran, m.Version+"_"+m.Name)
	}

	return ran, nil
}
