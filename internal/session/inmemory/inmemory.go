package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tveshas/quizagent/internal/solver"
)

// Store keeps session snapshots in process memory. Suitable for single-node
// deployments and tests; a restart loses history.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]solver.QuizSession
}

// NewStore creates an empty in-memory session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]solver.QuizSession)}
}

func (s *Store) Save(ctx context.Context, sess *solver.QuizSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	copied.Rounds = append([]solver.Round(nil), sess.Rounds...)
	s.sessions[sess.ID] = copied
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*solver.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &sess, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*solver.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*solver.QuizSession, 0, len(s.sessions))
	for id := range s.sessions {
		sess := s.sessions[id]
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
