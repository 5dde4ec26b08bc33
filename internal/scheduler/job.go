package scheduler

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	apperrors "github.com/motium-app/sync-agent/internal/errors"
)

// TokenRefreshJobName is the registration name of the background refresh job.
const TokenRefreshJobName = "token-refresh"

// SessionStore is the job's view of the secure session store.
type SessionStore interface {
	HasSession() bool
	IsTokenExpired() bool
	IsTokenExpiringSoon(thresholdMinutes int) bool
}

// TokenCoordinator serializes credential refresh.
type TokenCoordinator interface {
	RefreshIfNeeded(ctx context.Context, force bool) bool
}

// TokenRefreshJob keeps the session from going stale while the app is
// backgrounded. It runs independently of the foreground sync loop; the
// coordinator's lock resolves any race between the two.
type TokenRefreshJob struct {
	sessions            SessionStore
	tokens              TokenCoordinator
	expiringSoonMinutes int
	logger              *logrus.Logger
}

// NewTokenRefreshJob creates the background refresh job.
func NewTokenRefreshJob(sessions SessionStore, tokens TokenCoordinator, expiringSoonMinutes int, logger *logrus.Logger) *TokenRefreshJob {
	return &TokenRefreshJob{
		sessions:            sessions,
		tokens:              tokens,
		expiringSoonMinutes: expiringSoonMinutes,
		logger:              logger,
	}
}

// Run executes one firing. With no session there is nothing to refresh and
// the firing succeeds trivially; same when the token is neither expired nor
// expiring soon. A refresh that leaves the session still invalid is a
// transient failure the scheduler may retry; an auth-level rejection is
// permanent for this firing.
func (j *TokenRefreshJob) Run(ctx context.Context) error {
	if !j.sessions.HasSession() {
		j.logger.Debug("Refresh firing: no session, nothing to do")
		return nil
	}

	switch {
	case j.sessions.IsTokenExpired():
		j.logger.Info("Refresh firing: token expired, forcing refresh")
		j.tokens.RefreshIfNeeded(ctx, true)
	case j.sessions.IsTokenExpiringSoon(j.expiringSoonMinutes):
		j.logger.Info("Refresh firing: token expiring soon, refreshing")
		j.tokens.RefreshIfNeeded(ctx, false)
	default:
		j.logger.Debug("Refresh firing: token still valid")
		return nil
	}

	// The refresh outcome is judged by the session state it left behind, not
	// by the call's boolean alone: a refresh can report success and still
	// hand back an unusable session.
	if j.sessions.IsTokenExpired() {
		if !j.sessions.HasSession() {
			// The refresh wiped the credential (revoked token). Retrying
			// this firing cannot help; the app must re-authenticate.
			return backoff.Permanent(apperrors.NewAuthError("session invalid after refresh", nil))
		}
		return apperrors.NewTransientError("session still expired after refresh", nil)
	}

	return nil
}
