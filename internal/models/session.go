package models

import "time"

// Session is the persisted authentication credential. Expiry is always
// interpreted against the clock at check time; a session with
// ExpiresAt <= now is expired regardless of any cached flag.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the session carries a token that has not expired
// as of the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && s.ExpiresAt.After(now)
}
