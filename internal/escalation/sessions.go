package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned when a session has no tracker.
var ErrNotFound = errors.New("session not found")

type entry struct {
	mu      sync.Mutex
	tracker *Tracker
	ended   bool // guarded by mu
	refs    int  // guarded by Sessions.mu
}

// Sessions owns one tracker per conversation. Each session has its own lock,
// so updates for different sessions never wait on each other. Idle sessions
// expire after ttl and the least recently used are evicted past capacity;
// a session with a turn in flight stays pinned until the turn completes.
type Sessions struct {
	cfg    Config
	states StateStore
	logger *slog.Logger

	mu       sync.Mutex // guards get-or-create and inflight
	cache    *expirable.LRU[string, *entry]
	inflight map[string]*entry
}

// NewSessions creates a session registry. capacity 0 means unbounded and
// ttl 0 disables idle expiry. states may be nil.
func NewSessions(cfg Config, capacity int, ttl time.Duration, states StateStore, logger *slog.Logger) *Sessions {
	return &Sessions{
		cfg:      cfg,
		states:   states,
		logger:   logger,
		cache:    expirable.NewLRU[string, *entry](capacity, nil, ttl),
		inflight: make(map[string]*entry),
	}
}

// Config returns the tracker parameters used for new sessions.
func (s *Sessions) Config() Config { return s.cfg }

// With runs fn with exclusive access to the tracker for id, creating it (or
// restoring it from the state store) on first use. Calls for the same id
// run one at a time in the order they acquire the session. The snapshot is
// saved after fn returns without error.
func (s *Sessions) With(ctx context.Context, id string, fn func(*Tracker) error) error {
	e := s.acquire(ctx, id, true)
	defer s.release(id, e)
	defer e.mu.Unlock()

	if err := fn(e.tracker); err != nil {
		return err
	}

	// re-add to refresh the idle deadline; an evicted or expired entry that
	// was just used comes back as most recent
	s.mu.Lock()
	s.cache.Add(id, e)
	s.mu.Unlock()

	if s.states != nil {
		if err := s.states.Save(ctx, id, e.tracker.Snapshot()); err != nil {
			s.logger.Warn("failed to save escalation state", "session_id", id, "error", err)
		}
	}
	return nil
}

// Update records risk for the session and returns the new trend.
func (s *Sessions) Update(ctx context.Context, id string, risk float64) (Metrics, error) {
	var m Metrics
	err := s.With(ctx, id, func(t *Tracker) error {
		m = t.Update(risk)
		return nil
	})
	return m, err
}

// Peek returns the current trend of a live session without updating it.
func (s *Sessions) Peek(id string) (Metrics, error) {
	s.mu.Lock()
	e, ok := s.inflight[id]
	if !ok {
		e, ok = s.cache.Peek(id)
	}
	s.mu.Unlock()
	if !ok {
		return Metrics{}, fmt.Errorf("peek %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Metrics{}, fmt.Errorf("peek %s: %w", id, ErrNotFound)
	}
	return e.tracker.Metrics(), nil
}

// End drops the session's tracker and its persisted snapshot. It waits for
// a turn in flight on the session, and that turn's snapshot is deleted
// with the rest. Ending an unknown session is not an error.
func (s *Sessions) End(ctx context.Context, id string) error {
	e := s.acquire(ctx, id, false)
	defer s.release(id, e)
	defer e.mu.Unlock()

	var err error
	if s.states != nil {
		if derr := s.states.Delete(ctx, id); derr != nil {
			err = fmt.Errorf("delete escalation state: %w", derr)
		}
	}

	e.ended = true
	s.mu.Lock()
	if cur, ok := s.cache.Peek(id); ok && cur == e {
		s.cache.Remove(id)
	}
	if s.inflight[id] == e {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	return err
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.cache.Len()
}

// acquire returns the locked, pinned entry for id. An entry with a turn in
// flight is found through inflight even after the LRU dropped it. A new
// entry is pinned before its state is loaded so concurrent callers for the
// same id wait on it; it joins the LRU after its first successful turn.
// Entries ended while waiting are skipped.
func (s *Sessions) acquire(ctx context.Context, id string, restore bool) *entry {
	for {
		s.mu.Lock()
		e, ok := s.inflight[id]
		if !ok {
			e, ok = s.cache.Get(id)
		}
		if !ok {
			e = &entry{tracker: NewTracker(s.cfg)}
			e.mu.Lock()
			e.refs++
			s.inflight[id] = e
			s.mu.Unlock()
			if restore {
				s.restore(ctx, id, e)
			}
			return e
		}
		e.refs++
		s.inflight[id] = e
		s.mu.Unlock()

		e.mu.Lock()
		if !e.ended {
			return e
		}
		e.mu.Unlock()
		s.release(id, e)
	}
}

// release unpins e once its last holder is done.
func (s *Sessions) release(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && s.inflight[id] == e {
		delete(s.inflight, id)
	}
}

func (s *Sessions) restore(ctx context.Context, id string, e *entry) {
	if s.states == nil {
		return
	}
	st, found, err := s.states.Load(ctx, id)
	switch {
	case err != nil:
		s.logger.Warn("failed to load escalation state", "session_id", id, "error", err)
	case found:
		e.tracker.Restore(st)
		s.logger.Debug("restored escalation state", "session_id", id, "history", len(st.History))
	}
}
