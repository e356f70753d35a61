package replay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/vigil/internal/processor"
)

// Moderator is the part of the processor a replay drives.
type Moderator interface {
	Infer(ctx context.Context, req processor.Request) (*processor.Bundle, error)
	EndSession(ctx context.Context, id string) error
}

// Notifier receives the run summary, typically a Slack channel.
type Notifier interface {
	PostThread(ctx context.Context, threadTS, text string) error
}

type Config struct {
	Files        []string
	StatePath    string
	PolicyHash   string // progress saved under another policy is discarded
	Concurrency  int    // sessions replayed at once, default 4
	Fresh        bool   // ignore saved progress
	KeepSessions bool   // leave trackers alive after the run
}

// Runner replays conversation files. Turns of one session are applied
// strictly in order; different sessions run concurrently.
type Runner struct {
	cfg      Config
	mod      Moderator
	notifier Notifier
	logger   *slog.Logger
}

// NewRunner creates a replay runner. notifier may be nil.
func NewRunner(cfg Config, mod Moderator, notifier Notifier, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{cfg: cfg, mod: mod, notifier: notifier, logger: logger}
}

// Run replays every configured file not already processed and returns the
// totals. Progress is saved after each file, so an interrupted run resumes
// where it stopped.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state.Bind(r.cfg.PolicyHash) {
		r.logger.Info("policy changed since last replay, starting over", "policy_hash", r.cfg.PolicyHash)
	}
	if r.cfg.Fresh {
		state.Reset()
	}

	sum := &Summary{Actions: make(map[string]int), StartedAt: time.Now().UTC()}
	seen := make(map[string]bool)

	for _, path := range r.cfg.Files {
		if state.IsProcessed(path) {
			r.logger.Info("skipping replayed file", "path", path)
			sum.Skipped++
			continue
		}

		convs, bad, err := ParseFile(path)
		if err != nil {
			r.logger.Warn("failed to parse conversation file", "path", path, "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			sum.Errors++
			continue
		}
		sum.BadLines += bad

		fs, err := r.replayFile(ctx, path, convs, state)
		if err != nil {
			_ = state.Save()
			return sum, err
		}

		for _, c := range convs {
			seen[c.SessionID] = true
		}
		sum.add(fs)
		if err := state.MarkProcessed(path, fs.Turns); err != nil {
			r.logger.Warn("failed to record replayed file", "path", path, "error", err)
		}
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save replay state", "path", state.Path(), "error", err)
		}
		r.logger.Info("file replayed", "path", path, "sessions", fs.Sessions, "turns", fs.Turns, "errors", fs.Errors)
	}

	if !r.cfg.KeepSessions {
		for id := range seen {
			if err := r.mod.EndSession(ctx, id); err != nil {
				r.logger.Warn("failed to end replayed session", "session_id", id, "error", err)
			}
		}
	}
	sum.Sessions = len(seen)
	sum.Duration = time.Since(sum.StartedAt)

	if r.notifier != nil && sum.Files > 0 {
		if err := r.notifier.PostThread(ctx, "", FormatSummary(sum)); err != nil {
			r.logger.Warn("failed to post replay summary", "error", err)
		}
	}
	return sum, nil
}

func (r *Runner) replayFile(ctx context.Context, path string, convs []Conversation, state *State) (FileSummary, error) {
	fs := FileSummary{Path: path, Sessions: len(convs), Actions: make(map[string]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, c := range convs {
		c := c
		g.Go(func() error {
			for _, t := range c.Turns {
				if err := gctx.Err(); err != nil {
					return err
				}
				b, err := r.mod.Infer(gctx, processor.Request{
					SessionID: c.SessionID,
					MessageID: t.MessageID,
					Text:      t.Text,
					AgeGroup:  t.AgeGroup,
				})

				mu.Lock()
				if err != nil {
					fs.Errors++
					state.AddError(fmt.Sprintf("infer %s/%s: %v", filepath.Base(path), c.SessionID, err))
				} else {
					fs.Turns++
					fs.Actions[string(b.Decision.Action)]++
					if b.Decision.RouteToHuman {
						fs.Routed++
					}
					if b.Degraded {
						fs.Degraded++
					}
					state.Turns++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fs, err
	}
	return fs, ctx.Err()
}

func (s *Summary) add(fs FileSummary) {
	s.Files++
	s.Turns += fs.Turns
	s.Routed += fs.Routed
	s.Degraded += fs.Degraded
	s.Errors += fs.Errors
	for a, n := range fs.Actions {
		s.Actions[a] += n
	}
	s.PerFile = append(s.PerFile, fs)
}

// FormatSummary renders a summary as Slack mrkdwn.
func FormatSummary(s *Summary) string {
	var sb strings.Builder
	sb.WriteString("*Replay Summary*\n")
	fmt.Fprintf(&sb, "%d files (%d skipped), %d sessions, %d turns in %s\n",
		s.Files, s.Skipped, s.Sessions, s.Turns, s.Duration.Round(time.Millisecond))

	actions := make([]string, 0, len(s.Actions))
	for a := range s.Actions {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(&sb, "  - %s: %d\n", a, s.Actions[a])
	}
	fmt.Fprintf(&sb, "Routed to human: %d\n", s.Routed)
	if s.Degraded > 0 {
		fmt.Fprintf(&sb, "Decided with fallback models: %d\n", s.Degraded)
	}
	if s.Errors > 0 || s.BadLines > 0 {
		fmt.Fprintf(&sb, "Errors: %d, bad lines: %d\n", s.Errors, s.BadLines)
	}
	return sb.String()
}
