// Package authstate holds the identity record the rest of the application reads.
// Only the session lifecycle manager writes to it.
package authstate

import "sync"

// State is the observable session identity.
type State struct {
	AccessToken  string `json:"-"`
	IDToken      string `json:"-"`
	RefreshToken string `json:"-"`
	UserID       string `json:"userId,omitempty"`
	LoginSource  string `json:"loginSource,omitempty"`
}

// Authenticated reports whether an access token is currently projected.
func (s State) Authenticated() bool {
	return s.AccessToken != ""
}

// Projection receives lifecycle updates.
type Projection interface {
	SetAccessToken(token string)
	SetIDToken(token string)
	SetRefreshToken(token string)
	SetUserID(userID string)
	SetLoginSource(source string)
	Clear()
}

var _ Projection = (*Store)(nil)

// Store is an in-process Projection with change notification.
type Store struct {
	mu          sync.RWMutex
	state       State
	subscribers map[int]chan State
	nextID      int
}

func NewStore() *Store {
	return &Store{
		subscribers: make(map[int]chan State),
	}
}

func (s *Store) SetAccessToken(token string) {
	s.update(func(st *State) { st.AccessToken = token })
}

func (s *Store) SetIDToken(token string) {
	s.update(func(st *State) { st.IDToken = token })
}

func (s *Store) SetRefreshToken(token string) {
	s.update(func(st *State) { st.RefreshToken = token })
}

func (s *Store) SetUserID(userID string) {
	s.update(func(st *State) { st.UserID = userID })
}

func (s *Store) SetLoginSource(source string) {
	s.update(func(st *State) { st.LoginSource = source })
}

// Clear resets every field in a single step.
func (s *Store) Clear() {
	s.update(func(st *State) { *st = State{} })
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel receiving the state after each change, and a
// function that unsubscribes. Slow readers miss intermediate states, never the latest one.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.state
	fn(&s.state)
	if before == s.state {
		return
	}
	for _, ch := range s.subscribers {
		publish(ch, s.state)
	}
}

func publish(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	// Drop the stale value and retry; only update holds the write side.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
