package hermes

import (
	"encoding/json"
	"testing"
)

func TestInboundMessageParsing(t *testing.T) {
	raw := `{
		"message_id": "m-1",
		"session_id": "sess-001",
		"text": "you are awful",
		"age_group": "13+"
	}`

	var msg InboundMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse InboundMessage: %v", err)
	}
	if msg.SessionID != "sess-001" {
		t.Errorf("expected session_id 'sess-001', got '%s'", msg.SessionID)
	}
	if msg.AgeGroup != "13+" {
		t.Errorf("expected age_group '13+', got '%s'", msg.AgeGroup)
	}
	if err := msg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestInboundMessageValidate_EmptyText(t *testing.T) {
	msg := InboundMessage{SessionID: "sess-001"}
	if err := msg.Validate(); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestDecisionEventWireFormat(t *testing.T) {
	data, err := json.Marshal(DecisionEvent{DecisionID: "d-1", SessionID: "s-1", Action: "block", RouteToHuman: true})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"decision_id", "session_id", "action", "route_to_human", "max_risk", "rationale", "redact", "degraded", "decided_at"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if _, ok := raw["message_id"]; ok {
		t.Error("empty message_id should be omitted")
	}
}
