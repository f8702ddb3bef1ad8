package credential

import (
	"context"
	"math"
	"sync"
	"time"
)

// Session is the token material held for the signed-in operator.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	IDToken      string    `json:"idToken,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// remaining returns how long the access token stays valid. A zero expiry
// never expires.
func (s *Session) remaining(now time.Time) time.Duration {
	if s.Expiry.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return s.Expiry.Sub(now)
}

// SessionStore persists the session across restarts. Load returns a nil
// session and a nil error when nothing is stored.
type SessionStore interface {
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	ClearSession(ctx context.Context) error
}

// MemoryStore keeps the session in process memory only.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadSession(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *session
	m.session = &s
	return nil
}

func (m *MemoryStore) ClearSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
