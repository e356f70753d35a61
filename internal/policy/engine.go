// Package policy turns model signals and the conversation trend into a
// moderation decision. Decide is pure: the same signals and configuration
// always produce the same decision.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/vigil/internal/config"
)

type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

const crisisTag = "crisis"

// Escalation is the part of the conversation trend the policy reads.
type Escalation struct {
	EWMA  float64 `json:"ewma"`
	Slope float64 `json:"slope"`
}

// Signals is everything known about one message when deciding.
type Signals struct {
	AgeGroup     string
	Abuse        map[string]float64
	Crisis       float64
	CrisisLabels []string
	ContentFlags map[string]bool
	Escalation   Escalation
}

type Decision struct {
	Action       Action   `json:"action"`
	RouteToHuman bool     `json:"route_to_human"`
	MaxRisk      float64  `json:"max_risk"`
	Rationale    []string `json:"rationale"`
	Redact       []string `json:"redact"`
}

// Engine holds one immutable policy configuration.
type Engine struct {
	cfg  config.Policy
	hash string
}

// New validates cfg and returns an engine for it. hash identifies the
// configuration in audit records and may be empty.
func New(cfg config.Policy, hash string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &Engine{cfg: cfg, hash: hash}, nil
}

// Hash returns the configuration hash the engine was built with.
func (e *Engine) Hash() string { return e.hash }

// Config returns the policy configuration.
func (e *Engine) Config() config.Policy { return e.cfg }

// Decide applies the risk tiers, fairness annotation, redaction and routing
// rules to s.
func (e *Engine) Decide(s Signals) Decision {
	maxRisk := s.Crisis
	for _, v := range s.Abuse {
		maxRisk = math.Max(maxRisk, v)
	}
	maxRisk = math.Max(maxRisk, s.Escalation.EWMA)

	d := Decision{
		Action:    ActionAllow,
		MaxRisk:   maxRisk,
		Rationale: []string{},
		Redact:    []string{},
	}

	// both bounds inclusive
	switch a := e.cfg.Actions; {
	case maxRisk >= a.WarnMaxRisk:
		d.Action = ActionBlock
		d.Rationale = append(d.Rationale, "High risk")
	case maxRisk >= a.AllowMaxRisk:
		d.Action = ActionWarn
		d.Rationale = append(d.Rationale, "Moderate risk")
	}

	// terms are comma separated so multi-word terms stay readable
	if terms := e.cfg.Fairness.IdentityTerms; len(terms) > 0 {
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("Fairness guardrails active on: %s", strings.Join(terms, ", ")))
	}

	seen := make(map[string]bool)
	for _, label := range e.cfg.Actions.RedactLabels {
		if seen[label] {
			continue
		}
		_, scored := s.Abuse[label]
		if scored || contains(s.CrisisLabels, label) || s.ContentFlags[label] {
			d.Redact = append(d.Redact, label)
			seen[label] = true
		}
	}

	r := e.cfg.Routing
	d.RouteToHuman = (contains(s.CrisisLabels, crisisTag) && r.RouteToHumanIfCrisis) ||
		(d.Action == ActionBlock && r.RouteIfBlocked)

	return d
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
