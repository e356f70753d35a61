package audit

// Entry is one decision in the audit log. Message text is never stored, only
// its digest, so the log can be kept longer than chat content.
type Entry struct {
	Timestamp    string   `json:"ts"`
	DecisionID   string   `json:"decision_id"`
	SessionID    string   `json:"session_id"`
	TextDigest   string   `json:"text_digest"`
	AgeGroup     string   `json:"age_group"`
	Action       string   `json:"action"`
	RouteToHuman bool     `json:"route_to_human"`
	MaxRisk      float64  `json:"max_risk"`
	EWMA         float64  `json:"ewma"`
	Slope        float64  `json:"slope"`
	Redact       []string `json:"redact"`
	Rationale    []string `json:"rationale"`
	Degraded     bool     `json:"degraded"`
	PolicyHash   string   `json:"policy_hash"`
	PrevHash     string   `json:"prev_hash"`
}
