package state

import "sync"

// Store is the keyed conversation store: actor id to conversation, with
// optimistic version checks on commit.
type Store struct {
	mu sync.Mutex
	m  map[int64]*Conversation
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{m: make(map[int64]*Conversation)}
}

// Load returns a snapshot of the actor's conversation. Unknown actors
// load as idle.
func (s *Store) Load(actorID int64) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.m[actorID]; ok {
		return *c
	}
	return Conversation{Stage: StageIdle}
}

// Commit writes back a conversation loaded earlier. It fails with
// ErrStale when the stored version moved on since the load, which
// happens when a cancel (or another transition) won the race.
func (s *Store) Commit(actorID int64, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.m[actorID]
	if ok && cur.version != c.version {
		return ErrStale
	}
	if !ok && c.version != 0 {
		return ErrStale
	}
	c.version++
	s.m[actorID] = &c
	return nil
}

// Clear unconditionally resets the actor to idle and bumps the version
// so any in-flight transition commit is discarded.
func (s *Store) Clear(actorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.m[actorID]
	if !ok {
		s.m[actorID] = &Conversation{Stage: StageIdle, version: 1}
		return
	}
	s.m[actorID] = &Conversation{Stage: StageIdle, version: cur.version + 1}
}

// Stage returns the actor's current stage without copying the data bag.
func (s *Store) Stage(actorID int64) Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.m[actorID]; ok {
		return c.Stage
	}
	return StageIdle
}
