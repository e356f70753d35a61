package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/escalation"
	"github.com/MikeSquared-Agency/vigil/internal/policy"
	"github.com/MikeSquared-Agency/vigil/internal/processor"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

type fakeModerator struct {
	degraded bool
	sessions map[string]escalation.Metrics
	ended    []string
	lastReq  processor.Request
	err      error
}

func (f *fakeModerator) Infer(ctx context.Context, req processor.Request) (*processor.Bundle, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &processor.Bundle{
		DecisionID: "d-1",
		SessionID:  req.SessionID,
		Decision:   policy.Decision{Action: policy.ActionWarn, MaxRisk: 0.5, Rationale: []string{"Moderate risk"}, Redact: []string{}},
		Degraded:   f.degraded,
	}, nil
}

func (f *fakeModerator) EndSession(ctx context.Context, id string) error {
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeModerator) Escalation(id string) (escalation.Metrics, error) {
	m, ok := f.sessions[id]
	if !ok {
		return escalation.Metrics{}, fmt.Errorf("peek %s: %w", id, escalation.ErrNotFound)
	}
	return m, nil
}

func (f *fakeModerator) Status() processor.Status {
	return processor.Status{Degraded: f.degraded, ScorerSource: "fixture", PolicyHash: "sha256:abc", ActiveSessions: len(f.sessions)}
}

type fakeDecisions map[uuid.UUID]*store.DecisionRecord

func (f fakeDecisions) GetDecision(ctx context.Context, id uuid.UUID) (*store.DecisionRecord, error) {
	if d, ok := f[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func testServer(mod Moderator, decisions DecisionReader, token string) *Server {
	return NewServer(8760, token, mod, decisions, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(&fakeModerator{}, nil, "")
	w := do(t, srv, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(&fakeModerator{degraded: true}, nil, "")
	w := do(t, srv, "GET", "/api/v1/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["agent"] != "vigil" || body["status"] != "degraded" || body["degraded"] != true {
		t.Errorf("unexpected status %v", body)
	}
	if body["persistence"] != false {
		t.Errorf("persistence = %v, want false without a store", body["persistence"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(&fakeModerator{}, nil, "secret")
	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("metrics should not need auth, got %d", w.Code)
	}
}

func TestInferEndpoint(t *testing.T) {
	mod := &fakeModerator{}
	srv := testServer(mod, nil, "")

	w := do(t, srv, "POST", "/api/v1/infer", `{"session_id":"s1","text":"hello","age_group":"13+"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if mod.lastReq.Text != "hello" || mod.lastReq.AgeGroup != "13+" {
		t.Errorf("request = %+v", mod.lastReq)
	}

	var b processor.Bundle
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if b.Decision.Action != policy.ActionWarn || b.SessionID != "s1" {
		t.Errorf("bundle = %+v", b)
	}
}

func TestInferEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  *fakeModerator
		body string
		want int
	}{
		{"invalid json", &fakeModerator{}, `{"text":`, http.StatusBadRequest},
		{"too large", &fakeModerator{}, `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusBadRequest},
		{"processor error", &fakeModerator{err: fmt.Errorf("score with fixture: boom")}, `{"text":"x"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, testServer(tt.mod, nil, ""), "POST", "/api/v1/infer", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	mod := &fakeModerator{sessions: map[string]escalation.Metrics{
		"s1": {EWMA: 0.3, Slope: 0.1, History: []float64{0.2, 0.3}},
	}}
	srv := testServer(mod, nil, "")

	w := do(t, srv, "GET", "/api/v1/sessions/s1/escalation", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["session_id"] != "s1" || body["ewma"] != 0.3 {
		t.Errorf("unexpected body %v", body)
	}

	if w := do(t, srv, "GET", "/api/v1/sessions/missing/escalation", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	if w := do(t, srv, "DELETE", "/api/v1/sessions/s1", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if len(mod.ended) != 1 || mod.ended[0] != "s1" {
		t.Errorf("ended = %v", mod.ended)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	id := uuid.New()
	decisions := fakeDecisions{id: {ID: id, SessionID: "s1", Action: "block"}}

	tests := []struct {
		name      string
		decisions DecisionReader
		path      string
		want      int
	}{
		{"found", decisions, "/api/v1/decisions/" + id.String(), http.StatusOK},
		{"missing", decisions, "/api/v1/decisions/" + uuid.NewString(), http.StatusNotFound},
		{"bad id", decisions, "/api/v1/decisions/nope", http.StatusBadRequest},
		{"no store", nil, "/api/v1/decisions/" + id.String(), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, testServer(&fakeModerator{}, tt.decisions, ""), "GET", tt.path, "")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	srv := testServer(&fakeModerator{}, nil, "secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic secret"}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusForbidden},
		{"valid", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "GET", "/api/v1/status", "", tt.header...)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	if w := do(t, srv, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should not need auth, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := testServer(&fakeModerator{}, nil, "")
	if w := do(t, srv, "GET", "/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
