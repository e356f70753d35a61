package fixture

import (
	"context"
	"testing"

	"github.com/MikeSquared-Agency/vigil/internal/scoring"
)

func testLabeler() scoring.Labeler {
	return scoring.Labeler{
		AbuseLabels:     []string{"toxic", "threat", "insult", "hate", "sexual"},
		CrisisThreshold: 0.5,
	}
}

func TestScoreAbuse_ExactExample(t *testing.T) {
	s := New(testLabeler())
	res, err := s.ScoreAbuse(context.Background(), "i will hurt you")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scores["threat"] <= res.Scores["toxic"] {
		t.Errorf("threat example: scores = %v, want threat highest", res.Scores)
	}
	if len(res.Scores) != 5 {
		t.Errorf("scores = %v, want all five labels", res.Scores)
	}
	for l, v := range res.Scores {
		if v < 0 || v > 1 {
			t.Errorf("score[%s] = %f out of range", l, v)
		}
	}
}

func TestScoreAbuse_NoOverlap(t *testing.T) {
	s := New(testLabeler())
	res, _ := s.ScoreAbuse(context.Background(), "quantum chromodynamics")
	for l, v := range res.Scores {
		if v != 0 {
			t.Errorf("score[%s] = %f, want 0 without overlap", l, v)
		}
	}
	if len(res.Labels) != 0 {
		t.Errorf("labels = %v, want none", res.Labels)
	}
}

func TestScoreCrisis(t *testing.T) {
	s := New(testLabeler())
	crisis, _ := s.ScoreCrisis(context.Background(), "need help i want to die")
	calm, _ := s.ScoreCrisis(context.Background(), "let's watch a movie")
	if crisis.Score <= calm.Score {
		t.Errorf("crisis example scored %f, calm example %f", crisis.Score, calm.Score)
	}
	if calm.Score != 0 {
		t.Errorf("calm example crisis score = %f, want 0", calm.Score)
	}
}

func TestScoreContent(t *testing.T) {
	s := New(testLabeler())
	tests := []struct {
		text string
		want string
	}{
		{"i will hurt you", "16+"},
		{"let's watch a movie", "7+"},
		{"quantum chromodynamics", "13+"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, _ := s.ScoreContent(context.Background(), tt.text)
			if res.SuggestedMinAge != tt.want {
				t.Errorf("min age = %q, want %q", res.SuggestedMinAge, tt.want)
			}
		})
	}
}

func TestDeterministic(t *testing.T) {
	a, _ := New(testLabeler()).ScoreAbuse(context.Background(), "hello there friend")
	b, _ := New(testLabeler()).ScoreAbuse(context.Background(), "hello there friend")
	for l := range a.Scores {
		if a.Scores[l] != b.Scores[l] {
			t.Errorf("score[%s] differs: %f vs %f", l, a.Scores[l], b.Scores[l])
		}
	}
}

func TestSet(t *testing.T) {
	set := Set(testLabeler())
	if set.Source != "fixture" || set.Abuse == nil || set.Crisis == nil || set.Content == nil {
		t.Errorf("incomplete set: %+v", set)
	}
}
