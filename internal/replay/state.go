package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStatePath is where progress is kept when no path is given.
const DefaultStatePath = "~/.vigil/replay-state.json"

// State is the progress of a replay against one policy. A file counts as
// replayed only while its size and modification time are unchanged.
type State struct {
	PolicyHash string              `json:"policy_hash"`
	StartedAt  time.Time           `json:"started_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Files      map[string]FileMark `json:"files"`
	Turns      int                 `json:"turns"`
	Errors     []string            `json:"errors,omitempty"`

	path string
}

// FileMark fingerprints a replayed file.
type FileMark struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Turns   int       `json:"turns"`
}

// LoadState reads the state at path, or starts an empty one if the file
// does not exist.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return newState(p), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	s := newState(p)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", p, err)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileMark)
	}
	return s, nil
}

func newState(path string) *State {
	return &State{StartedAt: time.Now().UTC(), Files: make(map[string]FileMark), path: path}
}

// Bind ties the state to a policy. Progress recorded under a different
// policy is discarded and Bind reports true.
func (s *State) Bind(policyHash string) bool {
	if s.PolicyHash == policyHash {
		return false
	}
	stale := s.PolicyHash != "" && len(s.Files) > 0
	s.Reset()
	s.PolicyHash = policyHash
	return stale
}

// Reset forgets all progress but keeps the policy binding.
func (s *State) Reset() {
	s.StartedAt = time.Now().UTC()
	s.Files = make(map[string]FileMark)
	s.Turns = 0
	s.Errors = nil
}

// Save writes the state through a temporary file so an interrupted save
// never leaves a truncated state behind.
func (s *State) Save() error {
	s.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *State) Path() string { return s.path }

// IsProcessed reports whether path was replayed and has not changed since.
func (s *State) IsProcessed(path string) bool {
	mark, ok := s.Files[path]
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() == mark.Size && info.ModTime().Equal(mark.ModTime)
}

// MarkProcessed records path with its current fingerprint.
func (s *State) MarkProcessed(path string, turns int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	s.Files[path] = FileMark{Size: info.Size(), ModTime: info.ModTime(), Turns: turns}
	return nil
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
