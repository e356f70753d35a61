// Package remote scores messages against an HTTP model server that serves
// the trained abuse, crisis and age models.
package remote

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

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MikeSquared-Agency/vigil/internal/scoring"
)

type Client struct {
	baseURL string
	labeler scoring.Labeler
	client  *retryablehttp.Client
}

// NewClient returns a client for the model server at baseURL. logger may be
// nil to silence retry logging.
func NewClient(baseURL string, labeler scoring.Labeler, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.CheckRetry = checkRetry
	rc.Logger = nil
	if logger != nil {
		rc.Logger = logger
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		labeler: labeler,
		client:  rc,
	}
}

// checkRetry does not retry 503: the server reports an unfitted model with it
// and that will not change within a request.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

type textRequest struct {
	Text string `json:"text"`
}

type abuseResponse struct {
	Probabilities map[string]float64 `json:"probabilities"`
}

type crisisResponse struct {
	Probability float64 `json:"probability"`
}

type contentResponse struct {
	SuggestedMinAge string `json:"suggested_min_age"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) ScoreAbuse(ctx context.Context, text string) (scoring.AbuseResult, error) {
	var out abuseResponse
	if err := c.post(ctx, "/v1/abuse", text, &out); err != nil {
		return scoring.AbuseResult{}, fmt.Errorf("score abuse: %w", err)
	}
	return c.labeler.Abuse(out.Probabilities), nil
}

func (c *Client) ScoreCrisis(ctx context.Context, text string) (scoring.CrisisResult, error) {
	var out crisisResponse
	if err := c.post(ctx, "/v1/crisis", text, &out); err != nil {
		return scoring.CrisisResult{}, fmt.Errorf("score crisis: %w", err)
	}
	return c.labeler.Crisis(text, out.Probability), nil
}

func (c *Client) ScoreContent(ctx context.Context, text string) (scoring.ContentResult, error) {
	var out contentResponse
	if err := c.post(ctx, "/v1/content", text, &out); err != nil {
		return scoring.ContentResult{}, fmt.Errorf("score content: %w", err)
	}
	return c.labeler.Content(text, out.SuggestedMinAge), nil
}

// Health reports whether the model server is up with fitted models.
func (c *Client) Health(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusServiceUnavailable:
		return fmt.Errorf("model server: %w", scoring.ErrNotReady)
	default:
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
}

func (c *Client) post(ctx context.Context, path, text string, out any) error {
	body, err := json.Marshal(textRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%s: %w", path, scoring.ErrNotReady)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("api error %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Loader connects to the model server. An empty URL means no models are
// deployed and yields scoring.ErrNotReady.
type Loader struct {
	BaseURL string
	Labeler scoring.Labeler
	Logger  *slog.Logger
}

func (l Loader) Load(ctx context.Context) (*scoring.Set, error) {
	if l.BaseURL == "" {
		return nil, fmt.Errorf("no model server configured: %w", scoring.ErrNotReady)
	}
	c := NewClient(l.BaseURL, l.Labeler, l.Logger)
	if err := c.Health(ctx); err != nil {
		return nil, fmt.Errorf("load remote scorers: %w", err)
	}
	return &scoring.Set{Abuse: c, Crisis: c, Content: c, Source: "remote"}, nil
}
