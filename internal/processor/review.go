package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/audit"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

const overturnPrompt = "Decision overturned. What should it have been? Replies here are used to tune the policy."

// afterDecision records and announces a decision. Failures are logged and
// never reach the caller.
func (p *Processor) afterDecision(ctx context.Context, b *Bundle) {
	ctx = context.WithoutCancel(ctx)
	d := b.Decision

	metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	metrics.ActiveSessions.Set(float64(p.sessions.Len()))
	if d.RouteToHuman {
		metrics.RoutedToHumanTotal.Inc()
	}

	if p.audit != nil {
		if err := p.audit.Record(audit.Entry{
			Timestamp:    b.CreatedAt.Format("2006-01-02T15:04:05.000Z"),
			DecisionID:   b.DecisionID,
			SessionID:    b.SessionID,
			TextDigest:   audit.Digest(b.Input.Raw),
			AgeGroup:     b.AgeGroup,
			Action:       string(d.Action),
			RouteToHuman: d.RouteToHuman,
			MaxRisk:      d.MaxRisk,
			EWMA:         b.Escalation.EWMA,
			Slope:        b.Escalation.Slope,
			Redact:       d.Redact,
			Rationale:    d.Rationale,
			Degraded:     b.Degraded,
			PolicyHash:   b.PolicyHash,
		}); err != nil {
			p.logger.Error("failed to write audit entry", "decision_id", b.DecisionID, "error", err)
		}
	}

	id := uuid.MustParse(b.DecisionID)
	if p.store != nil {
		if _, err := p.store.WriteDecision(ctx, decisionRecord(id, b)); err != nil {
			p.logger.Error("failed to persist decision", "decision_id", b.DecisionID, "error", err)
		}
	}

	if p.bus != nil {
		if err := p.bus.Publish(hermes.SubjectDecisionMade, hermes.DecisionEvent{
			DecisionID:   b.DecisionID,
			MessageID:    b.MessageID,
			SessionID:    b.SessionID,
			Action:       string(d.Action),
			RouteToHuman: d.RouteToHuman,
			MaxRisk:      d.MaxRisk,
			Rationale:    d.Rationale,
			Redact:       d.Redact,
			EWMA:         b.Escalation.EWMA,
			Slope:        b.Escalation.Slope,
			Degraded:     b.Degraded,
			PolicyHash:   b.PolicyHash,
			DecidedAt:    b.CreatedAt,
		}); err != nil {
			p.logger.Error("failed to publish decision", "decision_id", b.DecisionID, "error", err)
		}
	}

	if !d.RouteToHuman {
		return
	}

	var ts string
	if p.reviewer != nil {
		var err error
		ts, err = p.reviewer.PostReviewRequest(ctx, slack.Review{
			DecisionID:   b.DecisionID,
			SessionID:    b.SessionID,
			Excerpt:      b.Input.Raw,
			AgeGroup:     b.AgeGroup,
			Action:       string(d.Action),
			MaxRisk:      d.MaxRisk,
			EWMA:         b.Escalation.EWMA,
			Slope:        b.Escalation.Slope,
			CrisisLabels: b.Crisis.Labels,
			AbuseLabels:  b.Abuse.Labels,
			Rationale:    d.Rationale,
			Degraded:     b.Degraded,
		})
		if err != nil {
			p.logger.Error("slack post failed", "decision_id", b.DecisionID, "error", err)
		} else if ts != "" {
			p.pendingReviews.Add(ts, id)
		}
	}

	if p.bus != nil {
		if err := p.bus.Publish(hermes.SubjectReviewRequested, hermes.ReviewRequest{
			DecisionID:   b.DecisionID,
			SessionID:    b.SessionID,
			Action:       string(d.Action),
			MaxRisk:      d.MaxRisk,
			CrisisLabels: b.Crisis.Labels,
			Rationale:    d.Rationale,
			SlackTS:      ts,
		}); err != nil {
			p.logger.Error("failed to publish review request", "decision_id", b.DecisionID, "error", err)
		}
	}
}

// HandleReaction is the NATS handler for review reactions forwarded from
// Slack. Only reactions on pending review messages count.
func (p *Processor) HandleReaction(subject string, data []byte) {
	r, err := slack.DecodeReaction(data)
	if errors.Is(err, slack.ErrNoMessage) {
		p.logger.Debug("reaction without message_ts", "reaction", r.Emoji, "channel", r.Channel)
		return
	}
	if err != nil {
		p.logger.Error("failed to parse reaction", "error", err)
		return
	}

	verdict := r.Verdict()
	if verdict == slack.VerdictUnknown {
		return
	}

	// only the caller that removes the entry resolves it
	id, ok := p.pendingReviews.Peek(r.MessageTS)
	if !ok || !p.pendingReviews.Remove(r.MessageTS) {
		return
	}

	p.logger.Info("processing review reaction",
		"reaction", r.Emoji,
		"verdict", string(verdict),
		"decision_id", id,
	)
	p.resolveReview(context.Background(), id, verdict, r.UserID, r.MessageTS)
}

func (p *Processor) resolveReview(ctx context.Context, id uuid.UUID, verdict slack.ReviewVerdict, reviewer, threadTS string) {
	metrics.ReviewsResolvedTotal.WithLabelValues(string(verdict)).Inc()

	if p.store != nil {
		err := p.store.UpdateReviewStatus(ctx, id, string(verdict), "")
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.logger.Warn("reviewed decision not stored", "decision_id", id)
		case err != nil:
			p.logger.Error("failed to update decision review", "decision_id", id, "error", err)
		}
	}

	if p.bus != nil {
		if err := p.bus.Publish(hermes.SubjectReviewResolved, hermes.ReviewResolved{
			DecisionID: id.String(),
			Verdict:    string(verdict),
			ReviewerID: reviewer,
			ResolvedAt: time.Now().UTC(),
		}); err != nil {
			p.logger.Error("failed to publish review resolved", "error", err)
		}
	}

	if verdict == slack.VerdictOverturned && p.reviewer != nil && threadTS != "" {
		if err := p.reviewer.PostThread(ctx, threadTS, overturnPrompt); err != nil {
			p.logger.Error("failed to post overturn thread", "error", err)
		}
	}
}

func decisionRecord(id uuid.UUID, b *Bundle) store.DecisionRecord {
	return store.DecisionRecord{
		ID:           id,
		SessionID:    b.SessionID,
		MessageID:    b.MessageID,
		AgeGroup:     b.AgeGroup,
		Action:       string(b.Decision.Action),
		RouteToHuman: b.Decision.RouteToHuman,
		MaxRisk:      b.Decision.MaxRisk,
		CrisisScore:  b.Crisis.Score,
		EWMA:         b.Escalation.EWMA,
		Slope:        b.Escalation.Slope,
		AbuseScores:  b.Abuse.Scores,
		CrisisLabels: b.Crisis.Labels,
		ContentFlags: b.Content.RuleFlags,
		Rationale:    b.Decision.Rationale,
		Redact:       b.Decision.Redact,
		Lang:         b.Input.Lang,
		Degraded:     b.Degraded,
		PolicyHash:   b.PolicyHash,
		CreatedAt:    b.CreatedAt,
	}
}
