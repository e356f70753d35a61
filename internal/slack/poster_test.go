package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatReviewMessage(t *testing.T) {
	msg := formatReviewMessage(Review{
		DecisionID:   "d-1",
		SessionID:    "s-1",
		Excerpt:      "i want to end my life",
		AgeGroup:     "13+",
		Action:       "block",
		MaxRisk:      0.82,
		EWMA:         0.61,
		Slope:        0.12,
		CrisisLabels: []string{"crisis", "suicide"},
		Rationale:    []string{"High risk"},
	})

	for _, want := range []string{"`BLOCK`", "d-1", "s-1", "13+", "0.82", "crisis, suicide", "High risk", "> i want to end my life"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "fallback") {
		t.Error("non-degraded review should not mention fallback models")
	}
}

func TestFormatReviewMessage_DegradedAndLongExcerpt(t *testing.T) {
	msg := formatReviewMessage(Review{
		DecisionID: "d-2",
		Action:     "warn",
		Excerpt:    strings.Repeat("a", maxExcerpt+50),
		Degraded:   true,
	})

	if !strings.Contains(msg, "fallback models") {
		t.Error("degraded review should say so")
	}
	if strings.Contains(msg, strings.Repeat("a", maxExcerpt+1)) {
		t.Error("excerpt not truncated")
	}
	if !strings.Contains(msg, "*Age group:* -") {
		t.Errorf("missing age group placeholder:\n%s", msg)
	}
}

func TestPostReviewRequest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}
		if _, ok := payload["blocks"]; !ok {
			t.Error("expected blocks in payload")
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostReviewRequest(context.Background(), Review{DecisionID: "d-1", Action: "block"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostReviewRequest_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostReviewRequest(context.Background(), Review{DecisionID: "d-1"})
	if err == nil {
		t.Fatal("expected error for slack error response")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("error %q should carry the slack error", err)
	}
}

func TestPostThread(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["thread_ts"] != "111.222" {
			t.Errorf("expected thread_ts 111.222, got %v", payload["thread_ts"])
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "111.333"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostThread(context.Background(), "111.222", "overturned by U1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		actionID    string
		wantVerdict ReviewVerdict
		wantID      string
		wantOK      bool
	}{
		{"review_confirm:d-1", VerdictConfirmed, "d-1", true},
		{"review_overturn:d-2", VerdictOverturned, "d-2", true},
		{"review_skip:d-3", VerdictSkipped, "d-3", true},
		{"review_confirm:", VerdictUnknown, "", false},
		{"gate_approve:item", VerdictUnknown, "", false},
		{"review_confirm", VerdictUnknown, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.actionID, func(t *testing.T) {
			v, id, ok := ParseAction(tt.actionID)
			if v != tt.wantVerdict || id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseAction(%q) = %q, %q, %v", tt.actionID, v, id, ok)
			}
		})
	}
}

func TestReviewButtonsCarryDecisionID(t *testing.T) {
	b := reviewButton("Overturn", ActionOverturn, "d-9", "danger")
	if b["action_id"] != "review_overturn:d-9" || b["style"] != "danger" {
		t.Errorf("unexpected button %v", b)
	}
	if _, ok := reviewButton("Skip", ActionSkip, "d-9", "")["style"]; ok {
		t.Error("unstyled button should not set style")
	}
}
