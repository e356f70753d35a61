package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a decision does not exist.
var ErrNotFound = errors.New("decision not found")

// Review statuses. Decisions not routed to a human stay at ReviewNone.
const (
	ReviewNone    = "none"
	ReviewPending = "pending"
)

// DecisionRecord is one persisted moderation decision.
type DecisionRecord struct {
	ID           uuid.UUID          `json:"id"`
	SessionID    string             `json:"session_id"`
	MessageID    string             `json:"message_id,omitempty"`
	AgeGroup     string             `json:"age_group"`
	Action       string             `json:"action"`
	RouteToHuman bool               `json:"route_to_human"`
	MaxRisk      float64            `json:"max_risk"`
	CrisisScore  float64            `json:"crisis_score"`
	EWMA         float64            `json:"ewma"`
	Slope        float64            `json:"slope"`
	AbuseScores  map[string]float64 `json:"abuse_scores"`
	CrisisLabels []string           `json:"crisis_labels"`
	ContentFlags map[string]bool    `json:"content_flags"`
	Rationale    []string           `json:"rationale"`
	Redact       []string           `json:"redact"`
	Lang         string             `json:"lang"`
	Degraded     bool               `json:"degraded"`
	PolicyHash   string             `json:"policy_hash"`
	ReviewStatus string             `json:"review_status"`
	ReviewNote   string             `json:"review_note,omitempty"`
	ReviewedAt   *time.Time         `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// WriteDecision writes a decision and its redact labels in one transaction.
// A nil ID is replaced with a new one; the stored ID is returned.
func (s *Store) WriteDecision(ctx context.Context, d DecisionRecord) (uuid.UUID, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.ReviewStatus == "" {
		d.ReviewStatus = ReviewNone
		if d.RouteToHuman {
			d.ReviewStatus = ReviewPending
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO moderation_decisions (
			id, session_id, message_id, age_group, action, route_to_human, max_risk,
			crisis_score, ewma, slope, abuse_scores, crisis_labels, content_flags,
			rationale, lang, degraded, policy_hash, review_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		d.ID, d.SessionID, d.MessageID, d.AgeGroup, d.Action, d.RouteToHuman, d.MaxRisk,
		d.CrisisScore, d.EWMA, d.Slope, nonNilScores(d.AbuseScores), nonNil(d.CrisisLabels), nonNilFlags(d.ContentFlags),
		nonNil(d.Rationale), d.Lang, d.Degraded, d.PolicyHash, d.ReviewStatus, d.CreatedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert decision: %w", err)
	}

	for _, label := range d.Redact {
		_, err = tx.Exec(ctx, `
			INSERT INTO moderation_decision_labels (id, decision_id, label, kind)
			VALUES ($1, $2, $3, 'redact')`,
			uuid.New(), d.ID, label,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert label: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return d.ID, nil
}

// UpdateReviewStatus records a moderator's verdict on a decision.
func (s *Store) UpdateReviewStatus(ctx context.Context, decisionID uuid.UUID, status, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE moderation_decisions SET review_status = $1, review_note = $2, reviewed_at = now()
		WHERE id = $3`,
		status, note, decisionID,
	)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update review status %s: %w", decisionID, ErrNotFound)
	}
	return nil
}

const selectDecision = `
	SELECT d.id, d.session_id, d.message_id, d.age_group, d.action, d.route_to_human, d.max_risk,
		d.crisis_score, d.ewma, d.slope, d.abuse_scores, d.crisis_labels, d.content_flags,
		d.rationale, d.lang, d.degraded, d.policy_hash, d.review_status, d.review_note,
		d.reviewed_at, d.created_at,
		COALESCE((SELECT array_agg(l.label ORDER BY l.label) FROM moderation_decision_labels l
			WHERE l.decision_id = d.id AND l.kind = 'redact'), '{}')
	FROM moderation_decisions d`

// GetDecision fetches one decision by id.
func (s *Store) GetDecision(ctx context.Context, id uuid.UUID) (*DecisionRecord, error) {
	row := s.pool.QueryRow(ctx, selectDecision+` WHERE d.id = $1`, id)
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

// ListSessionDecisions returns the newest decisions of a session first.
func (s *Store) ListSessionDecisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectDecision+`
		WHERE d.session_id = $1
		ORDER BY d.created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDecision(row pgx.Row) (*DecisionRecord, error) {
	var d DecisionRecord
	err := row.Scan(&d.ID, &d.SessionID, &d.MessageID, &d.AgeGroup, &d.Action, &d.RouteToHuman, &d.MaxRisk,
		&d.CrisisScore, &d.EWMA, &d.Slope, &d.AbuseScores, &d.CrisisLabels, &d.ContentFlags,
		&d.Rationale, &d.Lang, &d.Degraded, &d.PolicyHash, &d.ReviewStatus, &d.ReviewNote,
		&d.ReviewedAt, &d.CreatedAt, &d.Redact)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilScores(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nonNilFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
