package scoring

import (
	"sort"
	"strings"
)

// DefaultMinAge is suggested when no age model is available.
const DefaultMinAge = "13+"

var crisisKeywords = []struct {
	tag      string
	keywords []string
}{
	{"self_harm", []string{"hurt myself", "cut myself", "self harm"}},
	{"suicide", []string{"suicide", "end my life", "kill myself"}},
	{"harm", []string{"harm", "hurt", "damage", "injure"}},
}

var contentFlags = []string{"sexual", "violence", "substances"}

// Labeler turns raw model probabilities into labelled results. Every scorer
// implementation shares it so thresholds and keyword tags behave the same
// regardless of the backend.
type Labeler struct {
	AbuseLabels     []string
	AbuseThresholds map[string]float64
	CrisisThreshold float64
	ContentRules    map[string][]string
}

// Abuse fills in every configured label (missing probabilities score 0) and
// flags those at or above their threshold (0.5 when unset).
func (l Labeler) Abuse(probs map[string]float64) AbuseResult {
	res := AbuseResult{
		Scores: make(map[string]float64, len(l.AbuseLabels)),
		Labels: []string{},
	}
	for _, label := range l.AbuseLabels {
		score := probs[label]
		res.Scores[label] = score
		thr, ok := l.AbuseThresholds[label]
		if !ok {
			thr = 0.5
		}
		if score >= thr {
			res.Labels = append(res.Labels, label)
		}
	}
	return res
}

// Crisis tags the message: "crisis" when score reaches the threshold, plus
// keyword tags found in text.
func (l Labeler) Crisis(text string, score float64) CrisisResult {
	lower := strings.ToLower(text)
	res := CrisisResult{
		Score:  score,
		Label:  "non-crisis",
		Flags:  make(map[string]bool, len(crisisKeywords)+1),
		Labels: []string{},
	}
	res.Flags["crisis"] = score >= l.CrisisThreshold
	if res.Flags["crisis"] {
		res.Label = "crisis"
		res.Labels = append(res.Labels, "crisis")
	}
	for _, ck := range crisisKeywords {
		hit := containsAny(lower, ck.keywords)
		res.Flags[ck.tag] = hit
		if hit {
			res.Labels = append(res.Labels, ck.tag)
		}
	}
	return res
}

// Content applies the keyword rules. A rule named "<flag>_keywords" sets
// <flag>; sexual, violence and substances are always present.
func (l Labeler) Content(text, minAge string) ContentResult {
	lower := strings.ToLower(text)
	flags := make(map[string]bool, len(contentFlags))
	for _, f := range contentFlags {
		flags[f] = false
	}

	keys := make([]string, 0, len(l.ContentRules))
	for k := range l.ContentRules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flag := strings.TrimSuffix(k, "_keywords")
		kws := make([]string, 0, len(l.ContentRules[k]))
		for _, kw := range l.ContentRules[k] {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		flags[flag] = flags[flag] || containsAny(lower, kws)
	}

	if minAge == "" {
		minAge = DefaultMinAge
	}
	return ContentResult{SuggestedMinAge: minAge, RuleFlags: flags}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
