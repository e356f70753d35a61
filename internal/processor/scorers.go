package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/scoring"
)

type scores struct {
	abuse   scoring.AbuseResult
	crisis  scoring.CrisisResult
	content scoring.ContentResult
}

// ensureScorers returns the scorer set in use, loading it on first call.
// When loading fails the fixture takes over and the processor is degraded.
func (p *Processor) ensureScorers(ctx context.Context) *scoring.Set {
	if s := p.scorers.Load(); s != nil {
		return s
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if s := p.scorers.Load(); s != nil {
		return s
	}

	if p.loader == nil {
		p.useFallback("no_loader", nil)
		return p.fallback
	}
	set, err := p.loader.Load(ctx)
	if err != nil {
		p.useFallback(fallbackReason(err), err)
		return p.fallback
	}

	p.scorers.Store(set)
	p.degraded.Store(false)
	metrics.SetDegraded(false)
	p.logger.Info("scorers loaded", "source", set.Source)
	return set
}

// ReloadScorers retries the loader while degraded. It returns true once
// served models are in use.
func (p *Processor) ReloadScorers(ctx context.Context) bool {
	if !p.degraded.Load() {
		return true
	}
	if p.loader == nil {
		return false
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	set, err := p.loader.Load(ctx)
	if err != nil {
		p.logger.Debug("scorers still unavailable", "error", err)
		return false
	}
	p.scorers.Store(set)
	p.degraded.Store(false)
	metrics.SetDegraded(false)
	p.logger.Info("scorers recovered", "source", set.Source)
	return true
}

// WatchScorers calls ReloadScorers every interval until ctx is done.
func (p *Processor) WatchScorers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ReloadScorers(ctx)
		}
	}
}

func (p *Processor) useFallback(reason string, err error) {
	p.scorers.Store(p.fallback)
	p.degraded.Store(true)
	metrics.SetDegraded(true)
	metrics.ScorerFallbacksTotal.WithLabelValues(reason).Inc()
	p.logger.Warn("using fixture scorers, decisions are degraded", "reason", reason, "error", err)
}

// scoreWithFallback scores text with set. If a served scorer fails, the
// message is scored again with the fixture. A not-ready scorer also
// switches the processor to the fixture for later requests.
func (p *Processor) scoreWithFallback(ctx context.Context, set *scoring.Set, text string) (scores, *scoring.Set, error) {
	res, err := score(ctx, set, text)
	if err == nil || set == p.fallback {
		if err != nil {
			return scores{}, nil, fmt.Errorf("score with fixture: %w", err)
		}
		return res, set, nil
	}
	if ctx.Err() != nil {
		return scores{}, nil, ctx.Err()
	}

	reason := fallbackReason(err)
	if errors.Is(err, scoring.ErrNotReady) {
		p.loadMu.Lock()
		if p.scorers.Load() == set {
			p.useFallback(reason, err)
		}
		p.loadMu.Unlock()
	} else {
		metrics.ScorerFallbacksTotal.WithLabelValues(reason).Inc()
		p.logger.Warn("scorer failed, using fixture for this message", "source", set.Source, "error", err)
	}

	res, err = score(ctx, p.fallback, text)
	if err != nil {
		return scores{}, nil, fmt.Errorf("score with fixture: %w", err)
	}
	return res, p.fallback, nil
}

// score runs the three scorers concurrently.
func score(ctx context.Context, set *scoring.Set, text string) (scores, error) {
	var res scores
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := set.Abuse.ScoreAbuse(gctx, text)
		if err != nil {
			return fmt.Errorf("abuse: %w", err)
		}
		res.abuse = r
		return nil
	})
	g.Go(func() error {
		r, err := set.Crisis.ScoreCrisis(gctx, text)
		if err != nil {
			return fmt.Errorf("crisis: %w", err)
		}
		res.crisis = r
		return nil
	})
	g.Go(func() error {
		r, err := set.Content.ScoreContent(gctx, text)
		if err != nil {
			return fmt.Errorf("content: %w", err)
		}
		res.content = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return scores{}, err
	}
	return res, nil
}

func fallbackReason(err error) string {
	if errors.Is(err, scoring.ErrNotReady) {
		return "not_ready"
	}
	return "error"
}
