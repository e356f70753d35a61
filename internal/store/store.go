package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS moderation_decisions (
	id              UUID PRIMARY KEY,
	session_id      TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	age_group       TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL,
	route_to_human  BOOLEAN NOT NULL,
	max_risk        DOUBLE PRECISION NOT NULL,
	crisis_score    DOUBLE PRECISION NOT NULL,
	ewma            DOUBLE PRECISION NOT NULL,
	slope           DOUBLE PRECISION NOT NULL,
	abuse_scores    JSONB NOT NULL DEFAULT '{}',
	crisis_labels   TEXT[] NOT NULL DEFAULT '{}',
	content_flags   JSONB NOT NULL DEFAULT '{}',
	rationale       TEXT[] NOT NULL DEFAULT '{}',
	lang            TEXT NOT NULL DEFAULT '',
	degraded        BOOLEAN NOT NULL DEFAULT false,
	policy_hash     TEXT NOT NULL DEFAULT '',
	review_status   TEXT NOT NULL DEFAULT 'none',
	review_note     TEXT NOT NULL DEFAULT '',
	reviewed_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS moderation_decisions_session_idx
	ON moderation_decisions (session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS moderation_decision_labels (
	id          UUID PRIMARY KEY,
	decision_id UUID NOT NULL REFERENCES moderation_decisions(id) ON DELETE CASCADE,
	label       TEXT NOT NULL,
	kind        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS moderation_decision_labels_decision_idx
	ON moderation_decision_labels (decision_id);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
