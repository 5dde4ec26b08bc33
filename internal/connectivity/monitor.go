// Package connectivity tracks whether the backend is reachable and emits an
// edge-triggered notification when the network comes back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober checks backend reachability.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor mirrors the current network state. State changes come from the
// periodic probe or from SetOnline (platform signals, tests).
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	online   bool
	restored chan struct{}

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a connectivity monitor. It starts offline until the
// first probe or SetOnline call says otherwise.
func NewMonitor(prober Prober, interval time.Duration, logger *logrus.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		restored: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// IsOnline reports the last observed network state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Restored delivers one notification per offline-to-online transition. The
// channel is buffered; a transition while the consumer is busy coalesces
// into a single pending notification.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// SetOnline records a network state observation and fires the restoration
// notification on an offline-to-online edge.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.logger.Info("Network became available")
		select {
		case m.restored <- struct{}{}:
		default:
		}
	} else if !online && wasOnline {
		m.logger.Warn("Network became unavailable")
	}
}

// Start runs the probe loop until Stop is called or the context ends.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Health(ctx)
	m.SetOnline(err == nil)
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}
