package escalation

import (
	"context"
)

// StateStore persists tracker snapshots so a session's trend survives a
// restart or an eviction from the in-memory registry.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (State, bool, error)
	Save(ctx context.Context, sessionID string, st State) error
	Delete(ctx context.Context, sessionID string) error
}
