package processor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/slack"
)

// InteractionEvent matches the slack-gateway interaction event format.
type InteractionEvent struct {
	ActionID  string `json:"action_id"`
	Value     string `json:"value"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
	TriggerID string `json:"trigger_id"`
}

// HandleInteraction processes review button clicks. The decision id travels
// in the action id, so buttons keep working for reviews posted before a
// restart.
func (p *Processor) HandleInteraction(subject string, data []byte) {
	var evt InteractionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Warn("failed to parse interaction event", "error", err)
		return
	}

	verdict, raw, ok := slack.ParseAction(evt.ActionID)
	if !ok {
		return // not a review button
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		p.logger.Warn("review button with invalid decision id", "action_id", evt.ActionID, "error", err)
		return
	}

	if pending, ok := p.pendingReviews.Peek(evt.MessageTS); ok && pending == id {
		p.pendingReviews.Remove(evt.MessageTS)
	}

	p.logger.Info("review button pressed",
		"decision_id", id,
		"verdict", string(verdict),
		"user", evt.UserName,
	)
	p.resolveReview(context.Background(), id, verdict, evt.UserID, evt.MessageTS)
}
