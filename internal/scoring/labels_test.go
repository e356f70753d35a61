package scoring

import (
	"reflect"
	"testing"
)

func testLabeler() Labeler {
	return Labeler{
		AbuseLabels:     []string{"toxic", "threat", "insult", "hate", "sexual"},
		AbuseThresholds: map[string]float64{"toxic": 0.5, "threat": 0.3},
		CrisisThreshold: 0.5,
		ContentRules: map[string][]string{
			"sexual_keywords":     {"Explicit"},
			"violence_keywords":   {"stab"},
			"substances_keywords": {},
			"gambling_keywords":   {"casino"},
		},
	}
}

func TestAbuse_FullyPopulated(t *testing.T) {
	res := testLabeler().Abuse(map[string]float64{"toxic": 0.6, "threat": 0.3, "unknown": 0.9})

	if len(res.Scores) != 5 {
		t.Errorf("scores = %v, want every configured label", res.Scores)
	}
	if _, ok := res.Scores["unknown"]; ok {
		t.Error("unconfigured label leaked into scores")
	}
	want := []string{"toxic", "threat"}
	if !reflect.DeepEqual(res.Labels, want) {
		t.Errorf("labels = %v, want %v", res.Labels, want)
	}
}

func TestAbuse_DefaultThreshold(t *testing.T) {
	res := testLabeler().Abuse(map[string]float64{"hate": 0.5, "insult": 0.49})
	if !reflect.DeepEqual(res.Labels, []string{"hate"}) {
		t.Errorf("labels = %v, want [hate]", res.Labels)
	}
}

func TestCrisis_Tags(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		score     float64
		wantLabel string
		want      []string
	}{
		{"below threshold no keywords", "let's watch a movie", 0.2, "non-crisis", []string{}},
		{"at threshold", "i feel lost", 0.5, "crisis", []string{"crisis"}},
		{"self harm keyword also matches harm", "I want to HURT MYSELF", 0.1, "non-crisis", []string{"self_harm", "harm"}},
		{"suicide", "thinking about suicide", 0.9, "crisis", []string{"crisis", "suicide"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testLabeler().Crisis(tt.text, tt.score)
			if res.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", res.Label, tt.wantLabel)
			}
			if !reflect.DeepEqual(res.Labels, tt.want) {
				t.Errorf("labels = %v, want %v", res.Labels, tt.want)
			}
			if len(res.Flags) != 4 {
				t.Errorf("flags = %v, want 4 entries", res.Flags)
			}
		})
	}
}

func TestContent_Flags(t *testing.T) {
	res := testLabeler().Content("some explicit talk near the casino", "")

	want := map[string]bool{"sexual": true, "violence": false, "substances": false, "gambling": true}
	if !reflect.DeepEqual(res.RuleFlags, want) {
		t.Errorf("flags = %v, want %v", res.RuleFlags, want)
	}
	if res.SuggestedMinAge != DefaultMinAge {
		t.Errorf("min age = %q, want %q", res.SuggestedMinAge, DefaultMinAge)
	}
}

func TestContent_NoRules(t *testing.T) {
	res := Labeler{}.Content("anything", "16+")
	if len(res.RuleFlags) != 3 {
		t.Errorf("flags = %v, want the three standard flags", res.RuleFlags)
	}
	if res.SuggestedMinAge != "16+" {
		t.Errorf("min age = %q, want 16+", res.SuggestedMinAge)
	}
}
