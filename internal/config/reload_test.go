package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestReloader_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "policy.yaml", testPolicyYAML)

	got := make(chan *Settings, 4)
	r, err := NewReloader([]string{p}, func(s *Settings, _ string) { got <- s },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	r.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// an invalid write must not reach the callback
	writeFile(t, dir, "policy.yaml", "policy: {}\n")
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "policy.yaml", strings.Replace(testPolicyYAML, "warn_max_risk: 0.7", "warn_max_risk: 0.6", 1))

	select {
	case s := <-got:
		if s.Policy.Actions.WarnMaxRisk != 0.6 {
			t.Errorf("reloaded warn_max_risk = %v, want 0.6", s.Policy.Actions.WarnMaxRisk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not called")
	}
}

// replaceFile writes body next to name and renames it into place, the way
// editors and config deploy tools swap files.
func replaceFile(t *testing.T, dir, name, body string) {
	t.Helper()
	tmp := writeFile(t, dir, "."+name+".tmp", body)
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		t.Fatal(err)
	}
}

func TestReloader_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "policy.yaml", testPolicyYAML)

	got := make(chan *Settings, 4)
	r, err := NewReloader([]string{p}, func(s *Settings, _ string) { got <- s },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	r.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for _, want := range []float64{0.6, 0.5} {
		replaceFile(t, dir, "policy.yaml",
			strings.Replace(testPolicyYAML, "warn_max_risk: 0.7", fmt.Sprintf("warn_max_risk: %v", want), 1))
		select {
		case s := <-got:
			if s.Policy.Actions.WarnMaxRisk != want {
				t.Errorf("reloaded warn_max_risk = %v, want %v", s.Policy.Actions.WarnMaxRisk, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no reload after replacing the file (want warn_max_risk %v)", want)
		}
	}
}

func TestReloader_Relevant(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "policy.yaml")
	r, err := NewReloader([]string{p}, func(*Settings, string) {},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.watcher.Close()

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: p, Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: p, Op: fsnotify.Create}, true},
		{"rename", fsnotify.Event{Name: p, Op: fsnotify.Rename}, true},
		{"remove", fsnotify.Event{Name: p, Op: fsnotify.Remove}, true},
		{"unclean path", fsnotify.Event{Name: dir + "/./policy.yaml", Op: fsnotify.Write}, true},
		{"chmod", fsnotify.Event{Name: p, Op: fsnotify.Chmod}, false},
		{"other file", fsnotify.Event{Name: filepath.Join(dir, ".policy.yaml.tmp"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.relevant(tt.event); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
