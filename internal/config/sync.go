package config

import "time"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// Interval is the polling cadence while the pending queue is empty.
	Interval time.Duration
	// QuickInterval is used whenever pending operations exist, to drain
	// the backlog aggressively.
	QuickInterval time.Duration
	// MinTimeSinceLastSync debounces the network-restoration trigger.
	MinTimeSinceLastSync time.Duration
	// RemoteTimeout bounds every individual remote call inside a pass.
	RemoteTimeout time.Duration
	// MaxRetries is the dead-letter ceiling for a pending operation.
	// Zero means unbounded retry.
	MaxRetries int
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:             15 * time.Minute,
		QuickInterval:        30 * time.Second,
		MinTimeSinceLastSync: time.Minute,
		RemoteTimeout:        30 * time.Second,
		MaxRetries:           0,
	}
}

// AuthConfig holds token refresh configuration
type AuthConfig struct {
	// MinRefreshInterval throttles back-to-back refresh calls; a call
	// arriving inside the window is treated as already satisfied.
	MinRefreshInterval time.Duration
	// ProactiveRefreshMargin is how long before expiry a scheduled
	// refresh fires.
	ProactiveRefreshMargin time.Duration
}

// DefaultAuthConfig returns the default auth configuration
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		MinRefreshInterval:     time.Minute,
		ProactiveRefreshMargin: 5 * time.Minute,
	}
}

// SchedulerConfig holds background job configuration
type SchedulerConfig struct {
	// RefreshJobInterval is the repeat interval of the background token
	// refresh job. The host scheduler rejects anything under its floor.
	RefreshJobInterval time.Duration
	// ExpiringSoonThresholdMinutes is the window within which a firing
	// refreshes a still-valid token.
	ExpiringSoonThresholdMinutes int
	// ProbeInterval is the connectivity monitor's probe cadence.
	ProbeInterval time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RefreshJobInterval:           20 * time.Minute,
		ExpiringSoonThresholdMinutes: 10,
		ProbeInterval:                30 * time.Second,
	}
}
