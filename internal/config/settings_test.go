package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPolicyYAML = `policy:
  thresholds:
    abuse: {toxic: 0.5, threat: 0.5}
    crisis: 0.5
    escalation: {ewma_threshold: 0.5}
  actions:
    allow_max_risk: 0.4
    warn_max_risk: 0.7
    redact_labels: [sexual]
    block_labels: [threat, crisis]
  routing:
    route_to_human_if_crisis: true
    route_if_blocked: true
  age_rules:
    "13+": {prohibit: [sexual], caution: [violence]}
  fairness:
    identity_terms: [muslim, dalit]
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseSettings_Full(t *testing.T) {
	s, hash, err := ParseSettings([]byte(testPolicyYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("hash = %q, want sha256 prefix", hash)
	}
	if s.Policy.Actions.AllowMaxRisk != 0.4 || s.Policy.Actions.WarnMaxRisk != 0.7 {
		t.Errorf("actions = %+v", s.Policy.Actions)
	}
	if got := s.Policy.AgeRules["13+"].Prohibit; len(got) != 1 || got[0] != "sexual" {
		t.Errorf("age_rules[13+].prohibit = %v", got)
	}
	if len(s.Policy.Fairness.IdentityTerms) != 2 {
		t.Errorf("identity terms = %v", s.Policy.Fairness.IdentityTerms)
	}
	// defaults fill the optional sections
	if s.Escalation.EWMAAlpha != 0.3 || s.Escalation.SlopeWindow != 5 || s.Escalation.RiskFloor != 0.05 {
		t.Errorf("escalation defaults = %+v", s.Escalation)
	}
	if len(s.Models.Abuse.Labels) != 5 {
		t.Errorf("default abuse labels = %v", s.Models.Abuse.Labels)
	}
	if !s.Preprocessing.Normalization.UnicodeNFKC || s.Preprocessing.PIIMasking.EmailToken != "<EMAIL>" {
		t.Errorf("preprocessing defaults = %+v", s.Preprocessing)
	}
}

func TestParseSettings_MissingRequired(t *testing.T) {
	_, _, err := ParseSettings([]byte(`policy:
  thresholds:
    abuse: {toxic: 0.5}
  actions:
    allow_max_risk: 0.4
`))
	if err == nil {
		t.Fatal("expected error for missing keys")
	}
	for _, key := range []string{
		"policy.thresholds.crisis",
		"policy.actions.warn_max_risk",
		"policy.actions.redact_labels",
		"policy.routing.route_to_human_if_crisis",
		"policy.routing.route_if_blocked",
	} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
	if strings.Contains(err.Error(), "policy.thresholds.abuse ") {
		t.Errorf("error mentions a key that is present: %v", err)
	}
}

func TestParseSettings_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		wantMsg string
	}{
		{"allow above warn", [2]string{"allow_max_risk: 0.4", "allow_max_risk: 0.9"}, "must not exceed"},
		{"crisis above one", [2]string{"crisis: 0.5", "crisis: 1.5"}, "policy.thresholds.crisis"},
		{"negative abuse threshold", [2]string{"toxic: 0.5", "toxic: -0.1"}, "policy.thresholds.abuse.toxic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(testPolicyYAML, tt.replace[0], tt.replace[1], 1)
			_, _, err := ParseSettings([]byte(doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseSettings_InvalidEscalation(t *testing.T) {
	_, _, err := ParseSettings([]byte(testPolicyYAML + "escalation:\n  ewma_alpha: 0\n  slope_window: 0\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "ewma_alpha") || !strings.Contains(err.Error(), "slope_window") {
		t.Errorf("error %q should report both escalation keys", err)
	}
}

func TestLoadSettings_MergeOrder(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "policy.yaml", testPolicyYAML)
	override := writeFile(t, dir, "override.json",
		`{"policy": {"actions": {"warn_max_risk": 0.8}}, "models": {"escalation": {"slope_window": 7}}}`)

	s, _, err := LoadSettings(base, override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Policy.Actions.WarnMaxRisk != 0.8 {
		t.Errorf("warn_max_risk = %v, want later file to win", s.Policy.Actions.WarnMaxRisk)
	}
	if s.Policy.Actions.AllowMaxRisk != 0.4 {
		t.Errorf("allow_max_risk = %v, want value kept from first file", s.Policy.Actions.AllowMaxRisk)
	}
	if s.Escalation.SlopeWindow != 7 {
		t.Errorf("slope_window = %d, want models.escalation honoured", s.Escalation.SlopeWindow)
	}
	if s.Escalation.EWMAAlpha != 0.3 {
		t.Errorf("ewma_alpha = %v, want default", s.Escalation.EWMAAlpha)
	}
}

func TestLoadSettings_HashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "policy.yaml", testPolicyYAML)
	_, h1, err := LoadSettings(p)
	if err != nil {
		t.Fatal(err)
	}
	_, h2, _ := LoadSettings(p)
	if h1 != h2 {
		t.Errorf("same content, different hashes: %s vs %s", h1, h2)
	}

	writeFile(t, dir, "policy.yaml", strings.Replace(testPolicyYAML, "0.7", "0.75", 1))
	_, h3, err := LoadSettings(p)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("changed content kept the same hash")
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, _, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAbuseThreshold(t *testing.T) {
	p := Policy{Thresholds: Thresholds{Abuse: map[string]float64{"toxic": 0.3}}}
	if got := p.AbuseThreshold("toxic"); got != 0.3 {
		t.Errorf("AbuseThreshold(toxic) = %v, want 0.3", got)
	}
	if got := p.AbuseThreshold("hate"); got != 0.5 {
		t.Errorf("AbuseThreshold(hate) = %v, want default 0.5", got)
	}
}
