// Package fixture provides the cold-start scorers used when no trained
// models are available. They compare the message against four fixed
// examples; results are deterministic and need no training.
package fixture

import (
	"context"
	"strings"

	"github.com/MikeSquared-Agency/vigil/internal/scoring"
)

type example struct {
	text   string
	abuse  []string
	crisis bool
	minAge string
}

var examples = []example{
	{"hello friend", []string{"toxic"}, false, "7+"},
	{"i will hurt you", []string{"threat"}, false, "16+"},
	{"need help i want to die", []string{"toxic"}, true, "13+"},
	{"let's watch a movie", nil, false, "7+"},
}

// Scorer implements the abuse, crisis and content capabilities over the
// fixture.
type Scorer struct {
	labeler scoring.Labeler
	tokens  []map[string]bool
}

func New(labeler scoring.Labeler) *Scorer {
	s := &Scorer{labeler: labeler, tokens: make([]map[string]bool, len(examples))}
	for i, ex := range examples {
		s.tokens[i] = tokenSet(ex.text)
	}
	return s
}

// Set returns the fixture scorers as a scoring set.
func Set(labeler scoring.Labeler) *scoring.Set {
	s := New(labeler)
	return &scoring.Set{Abuse: s, Crisis: s, Content: s, Source: "fixture"}
}

func (s *Scorer) ScoreAbuse(ctx context.Context, text string) (scoring.AbuseResult, error) {
	sims, total := s.similarities(text)
	probs := make(map[string]float64)
	for i, ex := range examples {
		for _, label := range ex.abuse {
			probs[label] += sims[i]
		}
	}
	for label := range probs {
		probs[label] /= total + 1
	}
	return s.labeler.Abuse(probs), nil
}

func (s *Scorer) ScoreCrisis(ctx context.Context, text string) (scoring.CrisisResult, error) {
	sims, total := s.similarities(text)
	var score float64
	for i, ex := range examples {
		if ex.crisis {
			score += sims[i]
		}
	}
	return s.labeler.Crisis(text, score/(total+1)), nil
}

func (s *Scorer) ScoreContent(ctx context.Context, text string) (scoring.ContentResult, error) {
	sims, _ := s.similarities(text)
	weights := make(map[string]float64)
	for i, ex := range examples {
		weights[ex.minAge] += sims[i]
	}

	minAge := ""
	best := 0.0
	// examples order breaks ties
	for _, ex := range examples {
		if w := weights[ex.minAge]; w > best {
			best, minAge = w, ex.minAge
		}
	}
	return s.labeler.Content(text, minAge), nil
}

// similarities returns the Jaccard similarity of text to each example and
// their sum.
func (s *Scorer) similarities(text string) ([]float64, float64) {
	in := tokenSet(text)
	sims := make([]float64, len(examples))
	var total float64
	for i, ex := range s.tokens {
		sims[i] = jaccard(in, ex)
		total += sims[i]
	}
	return sims, total
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(text)) {
		t = strings.Trim(t, ".,!?;:'\"")
		if t != "" {
			set[t] = true
		}
	}
	return set
}
