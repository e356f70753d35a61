package escalation

import (
	"errors"
	"fmt"
	"math"
)

// Config holds the smoothing parameters shared by every session tracker.
type Config struct {
	Alpha  float64 // EWMA smoothing factor, (0, 1]
	Window int     // slope window, number of recent risks kept
	Floor  float64 // minimum risk recorded per turn
}

// DefaultConfig returns alpha 0.3, window 5 and floor 0.05.
func DefaultConfig() Config {
	return Config{Alpha: 0.3, Window: 5, Floor: 0.05}
}

// Validate reports every out-of-range parameter at once.
func (c Config) Validate() error {
	var errs []error
	if c.Alpha <= 0 || c.Alpha > 1 || math.IsNaN(c.Alpha) {
		errs = append(errs, fmt.Errorf("escalation.ewma_alpha must be in (0, 1], got %v", c.Alpha))
	}
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("escalation.slope_window must be >= 1, got %d", c.Window))
	}
	if c.Floor < 0 || c.Floor > 1 || math.IsNaN(c.Floor) {
		errs = append(errs, fmt.Errorf("escalation.risk_floor must be in [0, 1], got %v", c.Floor))
	}
	return errors.Join(errs...)
}

// Metrics is the trend view returned after each update.
type Metrics struct {
	EWMA    float64   `json:"ewma"`
	Slope   float64   `json:"slope"`
	History []float64 `json:"history"`
}

// State is the persisted form of a tracker.
type State struct {
	EWMA    float64   `json:"ewma"`
	History []float64 `json:"history"`
}

// Tracker follows the risk trend of one conversation. It is not safe for
// concurrent use; Sessions serializes access per session.
type Tracker struct {
	cfg     Config
	ewma    float64
	history []float64
}

// NewTracker returns a tracker with EWMA 0 and empty history.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, history: make([]float64, 0, cfg.Window+1)}
}

// Update records one turn risk and returns the new trend.
//
// The risk is floored at cfg.Floor (no upper clamp), folded into the EWMA and
// appended to the bounded history, evicting the oldest value past the window.
func (t *Tracker) Update(risk float64) Metrics {
	r := math.Max(risk, t.cfg.Floor)
	t.ewma = t.cfg.Alpha*r + (1-t.cfg.Alpha)*t.ewma

	t.history = append(t.history, r)
	if len(t.history) > t.cfg.Window {
		n := copy(t.history, t.history[len(t.history)-t.cfg.Window:])
		t.history = t.history[:n]
	}
	return t.Metrics()
}

// Metrics returns the current trend without recording anything.
func (t *Tracker) Metrics() Metrics {
	h := make([]float64, len(t.history))
	copy(h, t.history)
	return Metrics{EWMA: t.ewma, Slope: slope(h), History: h}
}

// Snapshot returns a copy of the tracker state for persistence.
func (t *Tracker) Snapshot() State {
	h := make([]float64, len(t.history))
	copy(h, t.history)
	return State{EWMA: t.ewma, History: h}
}

// Restore replaces the tracker state, keeping only the newest Window values.
func (t *Tracker) Restore(s State) {
	h := s.History
	if len(h) > t.cfg.Window {
		h = h[len(h)-t.cfg.Window:]
	}
	t.history = t.history[:0]
	for _, v := range h {
		if math.IsNaN(v) {
			continue
		}
		t.history = append(t.history, math.Max(v, t.cfg.Floor))
	}
	t.ewma = clamp(s.EWMA)
}

// slope is the least-squares slope of v against its indices 0..n-1.
func slope(v []float64) float64 {
	n := float64(len(v))
	if len(v) < 2 {
		return 0
	}
	meanX := (n - 1) / 2
	var meanY float64
	for _, y := range v {
		meanY += y
	}
	meanY /= n

	var num, den float64
	for i, y := range v {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		den = 1.0
	}
	return num / den
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
