package escalation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemStateStore struct {
	Data *expirable.LRU[string, State]
}

var _ StateStore = (*MemStateStore)(nil)

func NewMemStateStore(capacity int, ttl time.Duration) *MemStateStore {
	return &MemStateStore{
		Data: expirable.NewLRU[string, State](capacity, nil, ttl),
	}
}

func (s *MemStateStore) Load(ctx context.Context, sessionID string) (State, bool, error) {
	st, ok := s.Data.Get(sessionID)
	if !ok {
		return State{}, false, nil
	}
	return copyState(st), true, nil
}

func (s *MemStateStore) Save(ctx context.Context, sessionID string, st State) error {
	s.Data.Add(sessionID, copyState(st))
	return nil
}

func (s *MemStateStore) Delete(ctx context.Context, sessionID string) error {
	s.Data.Remove(sessionID)
	return nil
}

func copyState(st State) State {
	h := make([]float64, len(st.History))
	copy(h, st.History)
	return State{EWMA: st.EWMA, History: h}
}
