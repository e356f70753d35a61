// Package replay feeds recorded conversations through the decision pipeline
// for offline evaluation of a policy.
package replay

import "time"

// Turn is one line of a conversation file.
type Turn struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text"`
	AgeGroup  string    `json:"age_group"`
	Timestamp time.Time `json:"ts"`
}

// Conversation is the ordered turns of one session within one file.
type Conversation struct {
	SessionID string
	Turns     []Turn
}

// Summary totals a replay run.
type Summary struct {
	Files     int            `json:"files"`
	Skipped   int            `json:"skipped_files"`
	Sessions  int            `json:"sessions"`
	Turns     int            `json:"turns"`
	Actions   map[string]int `json:"actions"`
	Routed    int            `json:"routed"`
	Degraded  int            `json:"degraded"`
	Errors    int            `json:"errors"`
	BadLines  int            `json:"bad_lines"`
	PerFile   []FileSummary  `json:"per_file"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// FileSummary totals one replayed file.
type FileSummary struct {
	Path     string         `json:"path"`
	Sessions int            `json:"sessions"`
	Turns    int            `json:"turns"`
	Actions  map[string]int `json:"actions"`
	Routed   int            `json:"routed"`
	Degraded int            `json:"degraded"`
	Errors   int            `json:"errors"`
}
