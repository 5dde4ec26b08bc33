// Package auth coordinates credential renewal: it serializes concurrent
// refresh attempts, throttles redundant ones, and schedules proactive
// refreshes ahead of token expiry.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/motium-app/sync-agent/internal/config"
	"github.com/motium-app/sync-agent/internal/models"
)

// SessionStore is the coordinator's view of the secure session store.
type SessionStore interface {
	HasSession() bool
	IsTokenExpired() bool
	IsTokenExpiringSoon(thresholdMinutes int) bool
	ExpiresAt() (time.Time, bool)
	SaveSession(ctx context.Context, token string, expiresAt time.Time) error
}

// AuthClient is the remote auth endpoint.
type AuthClient interface {
	RefreshSession(ctx context.Context) (*models.Session, error)
}

// Coordinator is the single serialization point for credential mutation.
// Every caller (background job, sync pass, UI-triggered force refresh)
// funnels through its lock, so at most one network refresh is in flight at
// any time and no caller observes a torn credential.
type Coordinator struct {
	sessions SessionStore
	client   AuthClient
	cfg      *config.AuthConfig
	logger   *logrus.Logger

	mu          sync.Mutex
	lastRefresh time.Time

	timerMu sync.Mutex
	timer   *time.Timer

	now func() time.Time
}

// NewCoordinator creates a token refresh coordinator.
func NewCoordinator(sessions SessionStore, client AuthClient, cfg *config.AuthConfig, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RefreshIfNeeded refreshes the credential unless one was refreshed within
// the throttle window. Callers arriving while a refresh is in progress block
// on the lock and then observe its outcome instead of issuing a duplicate
// request. Returns true when the credential is considered fresh afterwards.
//
// A recent refresh inside the throttle window counts as success: the
// throttle is a throttle, not a failure. force bypasses the throttle but not
// the lock.
func (c *Coordinator) RefreshIfNeeded(ctx context.Context, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force && !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.cfg.MinRefreshInterval {
		c.logger.WithField("since_last_refresh", now.Sub(c.lastRefresh)).
			Debug("Skipping token refresh, recently refreshed")
		return true
	}

	session, err := c.client.RefreshSession(ctx)
	if err != nil {
		// lastRefresh stays unchanged so the next call is eligible to retry.
		c.logger.WithError(err).Warn("Token refresh failed")
		return false
	}

	if err := c.sessions.SaveSession(ctx, session.AccessToken, session.ExpiresAt); err != nil {
		c.logger.WithError(err).Error("Failed to persist refreshed session")
		return false
	}

	c.lastRefresh = c.now()
	c.logger.WithField("expires_at", session.ExpiresAt).Info("Token refreshed")
	return true
}

// ScheduleProactiveRefresh arms a one-shot refresh ahead of the given expiry
// by the configured margin. Rescheduling supersedes any previously scheduled
// timer; at most one proactive-refresh timer is pending per coordinator. An
// expiry already within the margin triggers an immediate forced refresh.
func (c *Coordinator) ScheduleProactiveRefresh(expiresAt time.Time) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	delay := expiresAt.Sub(c.now()) - c.cfg.ProactiveRefreshMargin
	if delay <= 0 {
		c.logger.WithField("expires_at", expiresAt).Info("Token already within refresh margin, refreshing now")
		go c.RefreshIfNeeded(context.Background(), true)
		return
	}

	c.logger.WithField("delay", delay).Debug("Scheduled proactive token refresh")
	c.timer = time.AfterFunc(delay, c.proactiveRefresh)
}

// proactiveRefresh runs when the proactive timer fires and re-arms the timer
// from the new expiry so renewal keeps chaining.
func (c *Coordinator) proactiveRefresh() {
	if !c.RefreshIfNeeded(context.Background(), false) {
		return
	}

	expiresAt, ok := c.sessions.ExpiresAt()
	if !ok {
		return
	}
	if expiresAt.Sub(c.now()) <= c.cfg.ProactiveRefreshMargin {
		// The backend handed back a token shorter than the margin; chaining
		// forced refreshes here would hammer it.
		c.logger.WithField("expires_at", expiresAt).Warn("Refreshed token expires within the proactive margin, not rescheduling")
		return
	}
	c.ScheduleProactiveRefresh(expiresAt)
}

// IsTokenExpiringSoon reports whether the credential expires strictly within
// the threshold.
func (c *Coordinator) IsTokenExpiringSoon(thresholdMinutes int) bool {
	return c.sessions.IsTokenExpiringSoon(thresholdMinutes)
}

// TimeUntilExpirySeconds returns the seconds until expiry, never negative,
// or nil when no session exists.
func (c *Coordinator) TimeUntilExpirySeconds() *int64 {
	expiresAt, ok := c.sessions.ExpiresAt()
	if !ok {
		return nil
	}

	seconds := int64(expiresAt.Sub(c.now()) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return &seconds
}

// Stop cancels any pending proactive-refresh timer.
func (c *Coordinator) Stop() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
