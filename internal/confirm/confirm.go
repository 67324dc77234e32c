// Package confirm implements the escalating three-step confirmation gate for
// irreversible deletions. The sequencing is an explicit state machine driven
// by discrete accept/cancel events; the presenting layer only relays events
// and renders the prompts.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step identifies the confirmation state.
type Step int

const (
	// StepOne through StepThree are the escalating warning prompts.
	StepOne Step = iota + 1
	StepTwo
	StepThree
	// StepConfirmed means all three accepts happened in sequence and the
	// protected call has been invoked.
	StepConfirmed
	// StepCancelled is absorbing: the session is dead and a new one starts
	// back at step one.
	StepCancelled
)

var (
	// ErrSessionNotFound indicates an unknown or expired session token.
	ErrSessionNotFound = errors.New("confirm: session not found")
	// ErrSessionFinished indicates an accept/cancel on a settled session.
	ErrSessionFinished = errors.New("confirm: session already settled")
)

// Callback is the protected operation. Only the state machine may invoke it,
// and only on the third sequential accept.
type Callback func(ctx context.Context) error

// Session is one pending confirmation, bound to a single destructive call.
type Session struct {
	Token     uuid.UUID
	ItemLabel string
	ItemKind  string
	ActorID   int64
	CreatedAt time.Time

	step     Step
	callback Callback
}

// Prompt returns the warning text for the session's current step. Each step
// is more explicit than the last.
func (s *Session) Prompt() string {
	switch s.step {
	case StepOne:
		return fmt.Sprintf("Delete %s %q?", s.ItemKind, s.ItemLabel)
	case StepTwo:
		return fmt.Sprintf("%s %q will be permanently removed. Continue?", s.ItemKind, s.ItemLabel)
	case StepThree:
		return fmt.Sprintf("Final confirmation: deleting %s %q cannot be undone.", s.ItemKind, s.ItemLabel)
	}
	return ""
}

// Step returns the session's current state.
func (s *Session) Step() Step {
	return s.step
}

// Manager tracks live confirmation sessions. Sessions are ephemeral: settled
// ones are removed immediately and stale ones expire on a sweep.
type Manager struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager constructs a Manager. Sessions older than ttl count as
// abandoned and are dropped.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{ttl: ttl, sessions: make(map[uuid.UUID]*Session)}
}

// Begin opens a confirmation session at step one. A previous cancelled or
// abandoned attempt shares nothing with the new session: the caller starts
// over with three fresh accepts.
func (m *Manager) Begin(actorID int64, itemLabel, itemKind string, cb Callback) *Session {
	s := &Session{
		Token:     uuid.New(),
		ItemLabel: itemLabel,
		ItemKind:  itemKind,
		ActorID:   actorID,
		CreatedAt: time.Now(),
		step:      StepOne,
		callback:  cb,
	}
	m.mu.Lock()
	m.sweepLocked()
	m.sessions[s.Token] = s
	m.mu.Unlock()
	return s
}

// Accept advances the session one step. On the third accept the protected
// callback runs and its error is returned alongside StepConfirmed; the
// session is removed either way.
func (m *Manager) Accept(ctx context.Context, token uuid.UUID, actorID int64) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	if !ok || s.ActorID != actorID {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	switch s.step {
	case StepOne:
		s.step = StepTwo
	case StepTwo:
		s.step = StepThree
	case StepThree:
		s.step = StepConfirmed
		delete(m.sessions, token)
	default:
		m.mu.Unlock()
		return nil, ErrSessionFinished
	}
	m.mu.Unlock()

	if s.step == StepConfirmed {
		return s, s.callback(ctx)
	}
	return s, nil
}

// Cancel discards the session from any step. Cancelling is always safe and
// always total: there is no resuming a cancelled confirmation.
func (m *Manager) Cancel(token uuid.UUID, actorID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || s.ActorID != actorID {
		return ErrSessionNotFound
	}
	s.step = StepCancelled
	delete(m.sessions, token)
	return nil
}

// Active returns the number of live sessions. Used by tests and metrics.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) sweepLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for token, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(m.sessions, token)
		}
	}
}
