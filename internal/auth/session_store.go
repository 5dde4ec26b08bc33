package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/motium-app/sync-agent/internal/models"
)

// SessionPersistence is the durable backing for the session store.
type SessionPersistence interface {
	GetSession(ctx context.Context) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context) error
}

// SecureSessionStore holds the current credential. Reads are served from an
// in-memory copy; writes go through to the persistence layer first. All
// expiry checks are made against the clock at call time.
type SecureSessionStore struct {
	persistence SessionPersistence
	mu          sync.RWMutex
	session     *models.Session
	now         func() time.Time
}

// NewSecureSessionStore loads any persisted session and returns the store.
func NewSecureSessionStore(ctx context.Context, persistence SessionPersistence) (*SecureSessionStore, error) {
	session, err := persistence.GetSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}

	return &SecureSessionStore{
		persistence: persistence,
		session:     session,
		now:         time.Now,
	}, nil
}

// HasSession reports whether any credential exists, expired or not.
func (s *SecureSessionStore) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.AccessToken != ""
}

// HasValidSession reports whether a non-expired credential exists.
func (s *SecureSessionStore) HasValidSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Valid(s.now())
}

// IsTokenExpired reports whether the credential is missing or past expiry.
func (s *SecureSessionStore) IsTokenExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return true
	}
	return !s.session.ExpiresAt.After(s.now())
}

// IsTokenExpiringSoon reports whether the credential expires strictly within
// the threshold. A token expiring exactly at the threshold is not flagged.
// A missing session counts as expiring.
func (s *SecureSessionStore) IsTokenExpiringSoon(thresholdMinutes int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return true
	}
	return s.session.ExpiresAt.Sub(s.now()) < time.Duration(thresholdMinutes)*time.Minute
}

// AccessToken returns the current token, if any.
func (s *SecureSessionStore) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.AccessToken == "" {
		return "", false
	}
	return s.session.AccessToken, true
}

// ExpiresAt returns the current token's expiry, if any session exists.
func (s *SecureSessionStore) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return time.Time{}, false
	}
	return s.session.ExpiresAt, true
}

// SaveSession persists and installs a new credential.
func (s *SecureSessionStore) SaveSession(ctx context.Context, token string, expiresAt time.Time) error {
	session := &models.Session{AccessToken: token, ExpiresAt: expiresAt}
	if err := s.persistence.SaveSession(ctx, session); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	return nil
}

// Clear drops the credential, e.g. after the surrounding application forces
// re-authentication.
func (s *SecureSessionStore) Clear(ctx context.Context) error {
	if err := s.persistence.DeleteSession(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}
