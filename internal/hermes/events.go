package hermes

import (
	"errors"
	"time"
)

const (
	SubjectMessageInbound  = "vigil.message.inbound"
	SubjectDecisionMade    = "vigil.decision.made"
	SubjectReviewRequested = "vigil.review.requested"
	SubjectReviewReaction  = "vigil.review.reaction"
	SubjectReviewResolved  = "vigil.review.resolved"
	SubjectInteraction     = "vigil.review.interaction"
	SubjectAgentRegistered = "vigil.agent.registered"
)

// InboundMessage is a chat message submitted for moderation over the bus.
type InboundMessage struct {
	MessageID string `json:"message_id,omitempty"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	AgeGroup  string `json:"age_group"`
}

func (m InboundMessage) Validate() error {
	if m.Text == "" {
		return errors.New("inbound message has no text")
	}
	return nil
}

// DecisionEvent is published for every decision.
type DecisionEvent struct {
	DecisionID   string    `json:"decision_id"`
	MessageID    string    `json:"message_id,omitempty"`
	SessionID    string    `json:"session_id"`
	Action       string    `json:"action"`
	RouteToHuman bool      `json:"route_to_human"`
	MaxRisk      float64   `json:"max_risk"`
	Rationale    []string  `json:"rationale"`
	Redact       []string  `json:"redact"`
	EWMA         float64   `json:"ewma"`
	Slope        float64   `json:"slope"`
	Degraded     bool      `json:"degraded"`
	PolicyHash   string    `json:"policy_hash,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// ReviewRequest is published when a decision is routed to a human.
type ReviewRequest struct {
	DecisionID   string   `json:"decision_id"`
	SessionID    string   `json:"session_id"`
	Action       string   `json:"action"`
	MaxRisk      float64  `json:"max_risk"`
	CrisisLabels []string `json:"crisis_labels"`
	Rationale    []string `json:"rationale"`
	SlackTS      string   `json:"slack_ts,omitempty"`
}

// ReviewResolved is published when a reviewer reacts to a review request.
type ReviewResolved struct {
	DecisionID string    `json:"decision_id"`
	Verdict    string    `json:"verdict"`
	ReviewerID string    `json:"reviewer_id,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type AgentRegistered struct {
	Service      string    `json:"service"`
	Version      string    `json:"version"`
	Subscribes   []string  `json:"subscribes"`
	Publishes    []string  `json:"publishes"`
	RegisteredAt time.Time `json:"registered_at"`
}
