package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in the conversation. Immutable once appended
type Turn struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Store holds the ordered turn history for one conversation session.
// Full history is retained for logging and debugging; callers read a bounded
// window via Context when building language model requests
type Store struct {
	mu        sync.RWMutex
	sessionID string
	turns     []Turn
	active    bool
	now       func() time.Time
}

// NewStore creates an empty conversation store
func NewStore() *Store {
	return &Store{now: time.Now}
}

// StartSession begins a new session, clearing any previous history,
// and returns the new session ID
func (s *Store) StartSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = uuid.New().String()
	s.turns = nil
	s.active = true
	return s.sessionID
}

// EndSession marks the session inactive. History is kept until the next
// StartSession so it can still be inspected after disconnect
func (s *Store) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Active reports whether a session is in progress
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SessionID returns the current session ID
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Append adds a finalized turn to the history
func (s *Store) Append(speaker Speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{
		Speaker:   speaker,
		Text:      text,
		Timestamp: s.now(),
	})
}

// Context returns a copy of the last n turns, oldest first
func (s *Store) Context(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	window := make([]Turn, len(s.turns)-start)
	copy(window, s.turns[start:])
	return window
}

// History returns a copy of the full turn history
func (s *Store) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]Turn, len(s.turns))
	copy(history, s.turns)
	return history
}

// Len returns the number of turns recorded so far
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
