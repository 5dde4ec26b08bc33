package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motium-app/sync-agent/internal/config"
	"github.com/motium-app/sync-agent/internal/models"
)

const (
	testToken       = "token-1"
	testClientDelay = 20 * time.Millisecond
)

// fakeSessions implements SessionStore in memory
type fakeSessions struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	has       bool
	saveErr   error
	now       func() time.Time
}

func (f *fakeSessions) HasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.has
}

func (f *fakeSessions) IsTokenExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.has || !f.expiresAt.After(f.now())
}

func (f *fakeSessions) IsTokenExpiringSoon(thresholdMinutes int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.has {
		return true
	}
	return f.expiresAt.Sub(f.now()) < time.Duration(thresholdMinutes)*time.Minute
}

func (f *fakeSessions) ExpiresAt() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiresAt, f.has
}

func (f *fakeSessions) SaveSession(_ context.Context, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.token = token
	f.expiresAt = expiresAt
	f.has = true
	return nil
}

// fakeAuthClient counts refresh calls
type fakeAuthClient struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	session *models.Session
}

func (f *fakeAuthClient) RefreshSession(_ context.Context) (*models.Session, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSessions, *fakeAuthClient, *time.Time) {
	t.Helper()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	sessions := &fakeSessions{now: func() time.Time { return *clock }}
	client := &fakeAuthClient{session: &models.Session{
		AccessToken: testToken,
		ExpiresAt:   now.Add(time.Hour),
	}}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	c := NewCoordinator(sessions, client, config.DefaultAuthConfig(), logger)
	c.now = func() time.Time { return *clock }
	return c, sessions, client, clock
}

func TestRefreshIfNeededPerformsRefresh(t *testing.T) {
	c, sessions, client, _ := newTestCoordinator(t)

	ok := c.RefreshIfNeeded(context.Background(), false)

	require.True(t, ok)
	assert.Equal(t, int32(1), client.calls.Load())
	assert.True(t, sessions.HasSession())
	assert.Equal(t, testToken, sessions.token)
}

func TestRefreshThrottledWithinWindow(t *testing.T) {
	c, _, client, clock := newTestCoordinator(t)
	ctx := context.Background()

	require.True(t, c.RefreshIfNeeded(ctx, false))

	*clock = clock.Add(30 * time.Second)
	ok := c.RefreshIfNeeded(ctx, false)

	assert.True(t, ok, "a throttled call reports success, not failure")
	assert.Equal(t, int32(1), client.calls.Load(), "no second network call inside the throttle window")
}

func TestRefreshEligibleAfterWindowElapsed(t *testing.T) {
	c, _, client, clock := newTestCoordinator(t)
	ctx := context.Background()

	require.True(t, c.RefreshIfNeeded(ctx, false))

	*clock = clock.Add(61 * time.Second)
	require.True(t, c.RefreshIfNeeded(ctx, false))

	assert.Equal(t, int32(2), client.calls.Load())
}

func TestForceBypassesThrottle(t *testing.T) {
	c, _, client, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.True(t, c.RefreshIfNeeded(ctx, false))
	require.True(t, c.RefreshIfNeeded(ctx, true))

	assert.Equal(t, int32(2), client.calls.Load())
}

func TestFailedRefreshStaysRetryEligible(t *testing.T) {
	c, sessions, client, _ := newTestCoordinator(t)
	ctx := context.Background()
	client.err = errors.New("connection reset")

	assert.False(t, c.RefreshIfNeeded(ctx, false))
	assert.False(t, sessions.HasSession())

	// lastRefresh was not advanced, so the very next call retries without
	// waiting out the throttle window.
	client.err = nil
	assert.True(t, c.RefreshIfNeeded(ctx, false))
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestFailedPersistReportsFailure(t *testing.T) {
	c, sessions, client, _ := newTestCoordinator(t)
	sessions.saveErr = errors.New("disk full")

	assert.False(t, c.RefreshIfNeeded(context.Background(), false))
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	c, _, client, _ := newTestCoordinator(t)
	client.delay = testClientDelay

	const callers = 8
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.RefreshIfNeeded(context.Background(), false)
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok, "waiting callers observe the in-flight refresh outcome")
	}
	assert.Equal(t, int32(1), client.calls.Load(), "only one network refresh in flight")
}

func TestScheduleProactiveRefreshWithinMarginFiresImmediately(t *testing.T) {
	c, _, client, clock := newTestCoordinator(t)

	// Expiry inside the 5 minute margin triggers a forced refresh right away.
	c.ScheduleProactiveRefresh(clock.Add(time.Minute))

	assert.Eventually(t, func() bool {
		return client.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScheduleProactiveRefreshSupersededByReschedule(t *testing.T) {
	c, _, client, _ := newTestCoordinator(t)
	// Short real-time margin so timers actually fire within the test.
	c.cfg = &config.AuthConfig{MinRefreshInterval: time.Minute, ProactiveRefreshMargin: 0}
	c.now = time.Now

	c.ScheduleProactiveRefresh(time.Now().Add(50 * time.Millisecond))
	c.ScheduleProactiveRefresh(time.Now().Add(time.Hour))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, client.calls.Load(), "the superseded timer must not fire")
	c.Stop()
}

func TestStopCancelsPendingTimer(t *testing.T) {
	c, _, client, _ := newTestCoordinator(t)
	c.cfg = &config.AuthConfig{MinRefreshInterval: time.Minute, ProactiveRefreshMargin: 0}
	c.now = time.Now

	c.ScheduleProactiveRefresh(time.Now().Add(50 * time.Millisecond))
	c.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, client.calls.Load())
}

func TestTimeUntilExpirySeconds(t *testing.T) {
	c, sessions, _, clock := newTestCoordinator(t)

	assert.Nil(t, c.TimeUntilExpirySeconds(), "nil without a session")

	require.NoError(t, sessions.SaveSession(context.Background(), testToken, clock.Add(90*time.Second)))
	secs := c.TimeUntilExpirySeconds()
	require.NotNil(t, secs)
	assert.Equal(t, int64(90), *secs)

	*clock = clock.Add(5 * time.Minute)
	secs = c.TimeUntilExpirySeconds()
	require.NotNil(t, secs)
	assert.Zero(t, *secs, "never negative after expiry")
}
