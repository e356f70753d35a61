package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the validated moderation configuration assembled from one or
// more YAML or JSON files.
type Settings struct {
	Preprocessing Preprocessing `yaml:"preprocessing"`
	Models        Models        `yaml:"models"`
	Escalation    Escalation    `yaml:"escalation"`
	Policy        Policy        `yaml:"policy"`
}

type Preprocessing struct {
	LanguageDetection struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"language_detection"`
	Normalization struct {
		Lower              bool `yaml:"lower"`
		StripURLs          bool `yaml:"strip_urls"`
		StripPunctuation   bool `yaml:"strip_punctuation"`
		CollapseWhitespace bool `yaml:"collapse_whitespace"`
		UnicodeNFKC        bool `yaml:"unicode_nfkc"`
	} `yaml:"normalization"`
	PIIMasking struct {
		MaskEmail  bool   `yaml:"mask_email"`
		MaskPhone  bool   `yaml:"mask_phone"`
		EmailToken string `yaml:"email_token"`
		PhoneToken string `yaml:"phone_token"`
	} `yaml:"pii_masking"`
}

type Models struct {
	Abuse struct {
		Labels []string `yaml:"labels"`
	} `yaml:"abuse"`
	ContentFilter struct {
		Rules map[string][]string `yaml:"rules"`
	} `yaml:"content_filter"`
}

type Escalation struct {
	EWMAAlpha   float64 `yaml:"ewma_alpha"`
	SlopeWindow int     `yaml:"slope_window"`
	RiskFloor   float64 `yaml:"risk_floor"`
}

type Policy struct {
	Thresholds Thresholds         `yaml:"thresholds"`
	Actions    Actions            `yaml:"actions"`
	Routing    Routing            `yaml:"routing"`
	AgeRules   map[string]AgeRule `yaml:"age_rules"`
	Fairness   Fairness           `yaml:"fairness"`
}

type Thresholds struct {
	Abuse      map[string]float64 `yaml:"abuse"`
	Crisis     float64            `yaml:"crisis"`
	Escalation struct {
		EWMAThreshold float64 `yaml:"ewma_threshold"`
	} `yaml:"escalation"`
}

type Actions struct {
	AllowMaxRisk float64  `yaml:"allow_max_risk"`
	WarnMaxRisk  float64  `yaml:"warn_max_risk"`
	RedactLabels []string `yaml:"redact_labels"`
	BlockLabels  []string `yaml:"block_labels"`
}

type Routing struct {
	RouteToHumanIfCrisis bool `yaml:"route_to_human_if_crisis"`
	RouteIfBlocked       bool `yaml:"route_if_blocked"`
}

type AgeRule struct {
	Prohibit []string `yaml:"prohibit"`
	Caution  []string `yaml:"caution"`
}

type Fairness struct {
	IdentityTerms []string `yaml:"identity_terms"`
}

// DefaultSettingsYAML holds the optional sections. The policy section has no
// defaults: a deployment must state its thresholds, actions and routing.
const DefaultSettingsYAML = `preprocessing:
  language_detection:
    enabled: true
  normalization:
    lower: true
    strip_urls: true
    strip_punctuation: true
    collapse_whitespace: true
    unicode_nfkc: true
  pii_masking:
    mask_email: true
    mask_phone: true
    email_token: "<EMAIL>"
    phone_token: "<PHONE>"
models:
  abuse:
    labels: [toxic, threat, insult, hate, sexual]
  content_filter:
    rules:
      sexual_keywords: []
      violence_keywords: []
      substances_keywords: []
escalation:
  ewma_alpha: 0.3
  slope_window: 5
  risk_floor: 0.05
`

var requiredKeys = []string{
	"policy.thresholds.abuse",
	"policy.thresholds.crisis",
	"policy.actions.allow_max_risk",
	"policy.actions.warn_max_risk",
	"policy.actions.redact_labels",
	"policy.routing.route_to_human_if_crisis",
	"policy.routing.route_if_blocked",
}

// LoadSettings reads and deep-merges the given files over the defaults
// (later files override earlier ones), validates the result and returns it
// with a hash of the merged document.
func LoadSettings(paths ...string) (*Settings, string, error) {
	var defaults map[string]any
	if err := yaml.Unmarshal([]byte(DefaultSettingsYAML), &defaults); err != nil {
		return nil, "", fmt.Errorf("parse default settings: %w", err)
	}

	var overlay map[string]any
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", p, err)
		}
		var part map[string]any
		if err := yaml.Unmarshal(data, &part); err != nil {
			return nil, "", fmt.Errorf("parse config %s: %w", p, err)
		}
		overlay = deepMerge(overlay, part)
	}
	return buildSettings(defaults, overlay)
}

// ParseSettings is LoadSettings for a single in-memory document.
func ParseSettings(data []byte) (*Settings, string, error) {
	var defaults, overlay map[string]any
	if err := yaml.Unmarshal([]byte(DefaultSettingsYAML), &defaults); err != nil {
		return nil, "", fmt.Errorf("parse default settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	return buildSettings(defaults, overlay)
}

func buildSettings(defaults, overlay map[string]any) (*Settings, string, error) {
	liftModelEscalation(overlay)

	var errs []error
	for _, key := range requiredKeys {
		if !hasKey(overlay, key) {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	merged := deepMerge(defaults, overlay)
	canonical, err := yaml.Marshal(merged)
	if err != nil {
		return nil, "", fmt.Errorf("encode merged config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(canonical, &s); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	h := sha256.Sum256(canonical)
	return &s, "sha256:" + hex.EncodeToString(h[:]), nil
}

// Validate checks value ranges across all sections.
func (s *Settings) Validate() error {
	var errs []error
	if err := s.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	e := s.Escalation
	if e.EWMAAlpha <= 0 || e.EWMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("escalation.ewma_alpha must be in (0, 1], got %v", e.EWMAAlpha))
	}
	if e.SlopeWindow < 1 {
		errs = append(errs, fmt.Errorf("escalation.slope_window must be >= 1, got %d", e.SlopeWindow))
	}
	if !unit(e.RiskFloor) {
		errs = append(errs, fmt.Errorf("escalation.risk_floor must be in [0, 1], got %v", e.RiskFloor))
	}
	if len(s.Models.Abuse.Labels) == 0 {
		errs = append(errs, errors.New("models.abuse.labels must not be empty"))
	}
	return errors.Join(errs...)
}

// Validate checks the policy thresholds. Presence of required keys is
// checked when files are loaded.
func (p Policy) Validate() error {
	var errs []error
	labels := make([]string, 0, len(p.Thresholds.Abuse))
	for l := range p.Thresholds.Abuse {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if v := p.Thresholds.Abuse[l]; !unit(v) {
			errs = append(errs, fmt.Errorf("policy.thresholds.abuse.%s must be in [0, 1], got %v", l, v))
		}
	}
	if !unit(p.Thresholds.Crisis) {
		errs = append(errs, fmt.Errorf("policy.thresholds.crisis must be in [0, 1], got %v", p.Thresholds.Crisis))
	}
	if !unit(p.Actions.AllowMaxRisk) {
		errs = append(errs, fmt.Errorf("policy.actions.allow_max_risk must be in [0, 1], got %v", p.Actions.AllowMaxRisk))
	}
	if !unit(p.Actions.WarnMaxRisk) {
		errs = append(errs, fmt.Errorf("policy.actions.warn_max_risk must be in [0, 1], got %v", p.Actions.WarnMaxRisk))
	}
	if p.Actions.AllowMaxRisk > p.Actions.WarnMaxRisk {
		errs = append(errs, fmt.Errorf("policy.actions.allow_max_risk (%v) must not exceed warn_max_risk (%v)",
			p.Actions.AllowMaxRisk, p.Actions.WarnMaxRisk))
	}
	for _, l := range p.Actions.RedactLabels {
		if strings.TrimSpace(l) == "" {
			errs = append(errs, errors.New("policy.actions.redact_labels contains an empty label"))
			break
		}
	}
	return errors.Join(errs...)
}

// AbuseThreshold returns the flagging threshold for label, 0.5 when unset.
func (p Policy) AbuseThreshold(label string) float64 {
	if v, ok := p.Thresholds.Abuse[label]; ok {
		return v
	}
	return 0.5
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// deepMerge returns a merged copy of a and b; b wins on conflicts and nested
// maps are merged recursively.
func deepMerge(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if am, ok := out[k].(map[string]any); ok {
			if bm, ok := v.(map[string]any); ok {
				out[k] = deepMerge(am, bm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// liftModelEscalation accepts tracker parameters under models.escalation as
// well; a top-level escalation section wins.
func liftModelEscalation(doc map[string]any) {
	models, ok := doc["models"].(map[string]any)
	if !ok {
		return
	}
	nested, ok := models["escalation"].(map[string]any)
	if !ok {
		return
	}
	top, _ := doc["escalation"].(map[string]any)
	doc["escalation"] = deepMerge(nested, top)
}

func hasKey(doc map[string]any, dotted string) bool {
	cur := doc
	parts := strings.Split(dotted, ".")
	for i, p := range parts {
		v, ok := cur[p]
		if !ok || v == nil {
			return false
		}
		if i == len(parts)-1 {
			return true
		}
		if cur, ok = v.(map[string]any); !ok {
			return false
		}
	}
	return false
}
