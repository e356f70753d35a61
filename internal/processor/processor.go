package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MikeSquared-Agency/vigil/internal/audit"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/escalation"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/policy"
	"github.com/MikeSquared-Agency/vigil/internal/preprocess"
	"github.com/MikeSquared-Agency/vigil/internal/scoring"
	"github.com/MikeSquared-Agency/vigil/internal/scoring/fixture"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

const inboundTimeout = 30 * time.Second

// DecisionStore persists decisions and their review outcome.
type DecisionStore interface {
	WriteDecision(ctx context.Context, d store.DecisionRecord) (uuid.UUID, error)
	UpdateReviewStatus(ctx context.Context, id uuid.UUID, status, note string) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Reviewer posts routed decisions where a human can judge them.
type Reviewer interface {
	PostReviewRequest(ctx context.Context, r slack.Review) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

type AuditRecorder interface {
	Record(e audit.Entry) error
}

// Options wires a Processor. Sessions and Settings are required; the side
// effect collaborators are optional.
type Options struct {
	Settings   *config.Settings
	PolicyHash string
	Sessions   *escalation.Sessions
	Loader     scoring.Loader
	Store      DecisionStore
	Bus        Publisher
	Reviewer   Reviewer
	Audit      AuditRecorder
	Logger     *slog.Logger

	// Review messages awaiting a verdict are remembered up to this many,
	// for at most this long. Zero picks the defaults.
	PendingReviewCapacity int
	PendingReviewTTL      time.Duration
}

const (
	defaultPendingReviewCapacity = 10000
	defaultPendingReviewTTL      = 7 * 24 * time.Hour
)

// Request is one message to moderate. An empty SessionID starts a new
// conversation.
type Request struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
	AgeGroup  string `json:"age_group"`
}

type Input struct {
	Raw            string  `json:"raw"`
	Preprocessed   string  `json:"preprocessed"`
	Lang           string  `json:"lang"`
	LangConfidence float64 `json:"lang_confidence"`
}

// Bundle is everything produced for one message.
type Bundle struct {
	DecisionID   string                `json:"decision_id"`
	SessionID    string                `json:"session_id"`
	MessageID    string                `json:"message_id,omitempty"`
	AgeGroup     string                `json:"age_group"`
	Input        Input                 `json:"input"`
	Abuse        scoring.AbuseResult   `json:"abuse"`
	Crisis       scoring.CrisisResult  `json:"crisis"`
	Content      scoring.ContentResult `json:"content"`
	Escalation   escalation.Metrics    `json:"escalation"`
	Decision     policy.Decision       `json:"decision"`
	Degraded     bool                  `json:"degraded"`
	ScorerSource string                `json:"scorer_source"`
	PolicyHash   string                `json:"policy_hash"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Status is the processor's health summary.
type Status struct {
	Degraded       bool   `json:"degraded"`
	ScorerSource   string `json:"scorer_source"`
	PolicyHash     string `json:"policy_hash"`
	ActiveSessions int    `json:"active_sessions"`
	PendingReviews int    `json:"pending_reviews"`
}

// Processor orchestrates Vigil's decision pipeline: preprocess, score,
// track the conversation trend, decide, then record and notify.
type Processor struct {
	sessions *escalation.Sessions
	loader   scoring.Loader
	fallback *scoring.Set
	store    DecisionStore
	bus      Publisher
	reviewer Reviewer
	audit    AuditRecorder
	logger   *slog.Logger

	engine  atomic.Pointer[policy.Engine]
	labeler atomic.Pointer[scoring.Labeler]
	prep    atomic.Pointer[preprocess.Options]

	loadMu   sync.Mutex
	scorers  atomic.Pointer[scoring.Set]
	degraded atomic.Bool

	pendingReviews *expirable.LRU[string, uuid.UUID] // keyed by review message TS
}

// New validates the settings and returns a processor. Scorers are loaded
// on first use.
func New(opts Options) (*Processor, error) {
	if opts.Sessions == nil {
		return nil, errors.New("processor: sessions are required")
	}
	if opts.Settings == nil {
		return nil, errors.New("processor: settings are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	capacity := opts.PendingReviewCapacity
	if capacity <= 0 {
		capacity = defaultPendingReviewCapacity
	}
	ttl := opts.PendingReviewTTL
	if ttl <= 0 {
		ttl = defaultPendingReviewTTL
	}

	p := &Processor{
		sessions:       opts.Sessions,
		loader:         opts.Loader,
		store:          opts.Store,
		bus:            opts.Bus,
		reviewer:       opts.Reviewer,
		audit:          opts.Audit,
		logger:         logger,
		pendingReviews: expirable.NewLRU[string, uuid.UUID](capacity, nil, ttl),
	}
	if err := p.Apply(opts.Settings, opts.PolicyHash); err != nil {
		return nil, err
	}
	p.fallback = fixture.Set(*p.labeler.Load())
	return p, nil
}

// LabelerFor builds the shared score post-processing from settings.
func LabelerFor(s *config.Settings) scoring.Labeler {
	return scoring.Labeler{
		AbuseLabels:     s.Models.Abuse.Labels,
		AbuseThresholds: s.Policy.Thresholds.Abuse,
		CrisisThreshold: s.Policy.Thresholds.Crisis,
		ContentRules:    s.Models.ContentFilter.Rules,
	}
}

// Apply switches to new settings: policy, label thresholds and
// preprocessing. Tracker parameters only apply to sessions created after
// a restart.
func (p *Processor) Apply(s *config.Settings, hash string) error {
	engine, err := policy.New(s.Policy, hash)
	if err != nil {
		return err
	}
	labeler := LabelerFor(s)
	prep := preprocess.FromSettings(s.Preprocessing)

	p.labeler.Store(&labeler)
	p.prep.Store(&prep)
	p.SetPolicy(engine)
	return nil
}

// SetPolicy atomically replaces the policy engine.
func (p *Processor) SetPolicy(e *policy.Engine) {
	p.engine.Store(e)
}

func (p *Processor) PolicyHash() string {
	return p.engine.Load().Hash()
}

// Degraded reports whether decisions are being made with fixture scorers.
func (p *Processor) Degraded() bool {
	return p.degraded.Load()
}

// ScorerSource names the scorer set in use, empty before the first request.
func (p *Processor) ScorerSource() string {
	if s := p.scorers.Load(); s != nil {
		return s.Source
	}
	return ""
}

func (p *Processor) ActiveSessions() int {
	return p.sessions.Len()
}

func (p *Processor) Status() Status {
	return Status{
		Degraded:       p.Degraded(),
		ScorerSource:   p.ScorerSource(),
		PolicyHash:     p.PolicyHash(),
		ActiveSessions: p.ActiveSessions(),
		PendingReviews: p.pendingReviews.Len(),
	}
}

// Infer moderates one message. It fails only when the context is done or
// the fixture scorers themselves fail; everything after the decision is
// best-effort.
func (p *Processor) Infer(ctx context.Context, req Request) (*Bundle, error) {
	start := time.Now()
	defer func() { metrics.InferDuration.Observe(time.Since(start).Seconds()) }()

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// Scoring and the tracker update run under the session lock so turns of
	// one conversation enter the trend in the order they arrived.
	var (
		set     *scoring.Set
		prep    preprocess.Result
		abuse   scoring.AbuseResult
		crisis  scoring.CrisisResult
		content scoring.ContentResult
		trend   escalation.Metrics
	)
	err := p.sessions.With(ctx, req.SessionID, func(t *escalation.Tracker) error {
		set = p.ensureScorers(ctx)
		prep = preprocess.Process(req.Text, *p.prep.Load())

		res, used, err := p.scoreWithFallback(ctx, set, prep.Text)
		if err != nil {
			return err
		}
		set = used

		labeler := p.labeler.Load()
		abuse = labeler.Abuse(res.abuse.Scores)
		crisis = labeler.Crisis(prep.Text, res.crisis.Score)
		content = labeler.Content(prep.Text, res.content.SuggestedMinAge)

		trend = t.Update(turnRisk(abuse.Scores, crisis.Score))
		return nil
	})
	if err != nil {
		return nil, err
	}

	engine := p.engine.Load()
	decision := engine.Decide(policy.Signals{
		AgeGroup:     req.AgeGroup,
		Abuse:        abuse.Scores,
		Crisis:       crisis.Score,
		CrisisLabels: crisis.Labels,
		ContentFlags: content.RuleFlags,
		Escalation:   policy.Escalation{EWMA: trend.EWMA, Slope: trend.Slope},
	})

	b := &Bundle{
		DecisionID: uuid.NewString(),
		SessionID:  req.SessionID,
		MessageID:  req.MessageID,
		AgeGroup:   req.AgeGroup,
		Input: Input{
			Raw:            req.Text,
			Preprocessed:   prep.Text,
			Lang:           prep.Lang,
			LangConfidence: prep.LangConfidence,
		},
		Abuse:        abuse,
		Crisis:       crisis,
		Content:      content,
		Escalation:   trend,
		Decision:     decision,
		Degraded:     set == p.fallback,
		ScorerSource: set.Source,
		PolicyHash:   engine.Hash(),
		CreatedAt:    time.Now().UTC(),
	}

	p.afterDecision(ctx, b)
	return b, nil
}

// EndSession drops the conversation's tracker.
func (p *Processor) EndSession(ctx context.Context, id string) error {
	err := p.sessions.End(ctx, id)
	metrics.ActiveSessions.Set(float64(p.sessions.Len()))
	return err
}

// Escalation returns the current trend of a live session.
func (p *Processor) Escalation(id string) (escalation.Metrics, error) {
	return p.sessions.Peek(id)
}

// HandleInbound is the NATS handler for vigil.message.inbound.
func (p *Processor) HandleInbound(subject string, data []byte) {
	var msg hermes.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("failed to parse inbound message", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		p.logger.Warn("rejected inbound message", "session_id", msg.SessionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	b, err := p.Infer(ctx, Request{
		SessionID: msg.SessionID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		AgeGroup:  msg.AgeGroup,
	})
	if err != nil {
		p.logger.Error("inference failed", "session_id", msg.SessionID, "error", err)
		return
	}
	p.logger.Debug("inbound message decided",
		"session_id", b.SessionID,
		"decision_id", b.DecisionID,
		"action", b.Decision.Action,
	)
}

// turnRisk is the largest abuse or crisis score, clamped to [0, 1].
func turnRisk(abuse map[string]float64, crisis float64) float64 {
	r := crisis
	for _, v := range abuse {
		r = math.Max(r, v)
	}
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return math.Min(r, 1)
}
