package reputation

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps standings in a map. It backs development setups and
// tests; scores vanish on restart.
type InMemoryStore struct {
	mu     sync.RWMutex
	scores map[key]entry
}

type key struct {
	playerID  string
	factionID string
}

type entry struct {
	score     int
	updatedAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scores: make(map[key]entry)}
}

func (s *InMemoryStore) Get(_ context.Context, playerID, factionID string) (Standing, error) {
	s.mu.RLock()
	e, ok := s.scores[key{playerID, factionID}]
	s.mu.RUnlock()
	if !ok {
		e = entry{updatedAt: time.Now().UTC()}
	}
	return Standing{
		PlayerID:  playerID,
		FactionID: factionID,
		Score:     e.score,
		Tier:      Describe(e.score),
		UpdatedAt: e.updatedAt,
	}, nil
}

func (s *InMemoryStore) Adjust(_ context.Context, playerID, factionID string, delta int) (Standing, error) {
	s.mu.Lock()
	k := key{playerID, factionID}
	e := s.scores[k]
	e.score += delta
	e.updatedAt = time.Now().UTC()
	s.scores[k] = e
	s.mu.Unlock()

	return Standing{
		PlayerID:  playerID,
		FactionID: factionID,
		Score:     e.score,
		Tier:      Describe(e.score),
		UpdatedAt: e.updatedAt,
	}, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
