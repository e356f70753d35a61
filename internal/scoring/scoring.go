// Package scoring defines the model capabilities the decision pipeline
// depends on, independent of how the models are served.
package scoring

import (
	"context"
	"errors"
)

// ErrNotReady means a scorer has no usable model. The orchestrator answers it
// by falling back to the cold-start fixture.
var ErrNotReady = errors.New("scorer not ready")

type AbuseResult struct {
	Scores map[string]float64 `json:"scores"`
	Labels []string           `json:"labels"`
}

type CrisisResult struct {
	Score  float64         `json:"score"`
	Label  string          `json:"label"`
	Flags  map[string]bool `json:"flags"`
	Labels []string        `json:"labels"`
}

type ContentResult struct {
	SuggestedMinAge string          `json:"suggested_min_age"`
	RuleFlags       map[string]bool `json:"rule_flags"`
}

type AbuseScorer interface {
	ScoreAbuse(ctx context.Context, text string) (AbuseResult, error)
}

type CrisisScorer interface {
	ScoreCrisis(ctx context.Context, text string) (CrisisResult, error)
}

type ContentScorer interface {
	ScoreContent(ctx context.Context, text string) (ContentResult, error)
}

// Set is one ready-to-use group of scorers. Source names where they came
// from ("remote", "fixture") for status reporting.
type Set struct {
	Abuse   AbuseScorer
	Crisis  CrisisScorer
	Content ContentScorer
	Source  string
}

// Loader produces a scorer set from persisted or served models.
type Loader interface {
	Load(ctx context.Context) (*Set, error)
}
