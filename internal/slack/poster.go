package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Review is what a moderator needs to judge a routed decision.
type Review struct {
	DecisionID   string
	SessionID    string
	Excerpt      string
	AgeGroup     string
	Action       string
	MaxRisk      float64
	EWMA         float64
	Slope        float64
	CrisisLabels []string
	AbuseLabels  []string
	Rationale    []string
	Degraded     bool
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostReviewRequest posts a routed decision for human review and returns the
// message timestamp used to match reactions.
func (p *Poster) PostReviewRequest(ctx context.Context, r Review) (string, error) {
	text := formatReviewMessage(r)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "React: :+1: decision stands | :-1: overturn | :shrug: skip",
					},
				},
			},
			{
				"type": "actions",
				"elements": []map[string]any{
					reviewButton("Stands", ActionConfirm, r.DecisionID, "primary"),
					reviewButton("Overturn", ActionOverturn, r.DecisionID, "danger"),
					reviewButton("Skip", ActionSkip, r.DecisionID, ""),
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted review to slack", "ts", ts, "decision_id", r.DecisionID)
	return ts, nil
}

// Review button action ids; the decision id follows the colon.
const (
	ActionConfirm  = "review_confirm"
	ActionOverturn = "review_overturn"
	ActionSkip     = "review_skip"
)

func reviewButton(label, action, decisionID, style string) map[string]any {
	b := map[string]any{
		"type":      "button",
		"text":      map[string]any{"type": "plain_text", "text": label},
		"action_id": action + ":" + decisionID,
		"value":     decisionID,
	}
	if style != "" {
		b["style"] = style
	}
	return b
}

// ParseAction splits a review button action id into its verdict and
// decision id. ok is false for actions that are not review buttons.
func ParseAction(actionID string) (verdict ReviewVerdict, decisionID string, ok bool) {
	action, id, found := strings.Cut(actionID, ":")
	if !found || id == "" {
		return VerdictUnknown, "", false
	}
	switch action {
	case ActionConfirm:
		return VerdictConfirmed, id, true
	case ActionOverturn:
		return VerdictOverturned, id, true
	case ActionSkip:
		return VerdictSkipped, id, true
	default:
		return VerdictUnknown, "", false
	}
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

const maxExcerpt = 280

func formatReviewMessage(r Review) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Moderation review:* `%s` (%s)\n", strings.ToUpper(r.Action), r.DecisionID)
	fmt.Fprintf(&sb, "*Session:* %s | *Age group:* %s\n", r.SessionID, orDash(r.AgeGroup))
	fmt.Fprintf(&sb, "*Max risk:* %.2f | *Trend:* ewma %.2f, slope %+.3f\n", r.MaxRisk, r.EWMA, r.Slope)

	if len(r.CrisisLabels) > 0 {
		fmt.Fprintf(&sb, "*Crisis signals:* %s\n", strings.Join(r.CrisisLabels, ", "))
	}
	if len(r.AbuseLabels) > 0 {
		fmt.Fprintf(&sb, "*Abuse labels:* %s\n", strings.Join(r.AbuseLabels, ", "))
	}
	if len(r.Rationale) > 0 {
		fmt.Fprintf(&sb, "*Rationale:* %s\n", strings.Join(r.Rationale, "; "))
	}
	if r.Degraded {
		sb.WriteString("_Scored by fallback models, confidence is low._\n")
	}

	excerpt := r.Excerpt
	if runes := []rune(excerpt); len(runes) > maxExcerpt {
		excerpt = string(runes[:maxExcerpt]) + "…"
	}
	if excerpt != "" {
		fmt.Fprintf(&sb, "\n> %s", strings.ReplaceAll(excerpt, "\n", "\n> "))
	}

	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
