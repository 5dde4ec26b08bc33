// Package scheduler models the host's recurring background job mechanism:
// interval floor, network constraint, keep-existing registration policy, and
// a retry/backoff policy that distinguishes transient from permanent
// failures. The in-process implementation approximates the platform
// scheduler so the coordinator and orchestrator stay platform-agnostic.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// MinJobInterval is the host scheduler's minimum granularity. Registrations
// under this floor are rejected.
const MinJobInterval = 15 * time.Minute

// JobStatus is the host-visible state of a registered job.
type JobStatus string

const (
	StatusNotScheduled JobStatus = "not_scheduled"
	StatusEnqueued     JobStatus = "enqueued"
	StatusRunning      JobStatus = "running"
	StatusSucceeded    JobStatus = "succeeded"
	StatusFailed       JobStatus = "failed"
)

// Job is a unit of background work. Returning an error wrapped with
// backoff.Permanent marks the firing permanently failed; any other error is
// retried under the scheduler's backoff policy.
type Job interface {
	Run(ctx context.Context) error
}

// JobSpec describes a periodic registration.
type JobSpec struct {
	Name            string
	Interval        time.Duration
	RequiresNetwork bool
}

// HostScheduler defines the interface for the host's background job service
type HostScheduler interface {
	// RegisterPeriodic schedules a recurring job. Re-registering an already
	// scheduled name with identical parameters keeps the existing schedule.
	RegisterPeriodic(ctx context.Context, spec JobSpec, job Job) error

	// RunNow executes a registered job once, bypassing the periodic timer
	// but keeping the network constraint.
	RunNow(name string) error

	// Cancel removes a registration; a firing already executing completes.
	Cancel(name string) error

	// Status reports the job's host-visible state.
	Status(name string) JobStatus
}

// NetworkChecker gates network-constrained firings.
type NetworkChecker interface {
	IsOnline() bool
}

// InProcessScheduler implements HostScheduler with in-process timers.
type InProcessScheduler struct {
	network NetworkChecker
	logger  *logrus.Logger

	mu   sync.Mutex
	jobs map[string]*scheduledJob
}

type scheduledJob struct {
	spec   JobSpec
	job    Job
	cancel context.CancelFunc
	runNow chan struct{}

	statusMu sync.Mutex
	status   JobStatus
}

func (j *scheduledJob) setStatus(s JobStatus) {
	j.statusMu.Lock()
	j.status = s
	j.statusMu.Unlock()
}

func (j *scheduledJob) getStatus() JobStatus {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.status
}

// NewInProcessScheduler creates a scheduler gated on the given network signal.
func NewInProcessScheduler(network NetworkChecker, logger *logrus.Logger) *InProcessScheduler {
	return &InProcessScheduler{
		network: network,
		logger:  logger,
		jobs:    make(map[string]*scheduledJob),
	}
}

// RegisterPeriodic schedules a recurring job. Intervals under MinJobInterval
// are rejected. Registering a name that is already scheduled keeps the
// existing schedule: no duplicate, no phase reset.
func (s *InProcessScheduler) RegisterPeriodic(ctx context.Context, spec JobSpec, job Job) error {
	if spec.Interval < MinJobInterval {
		return fmt.Errorf("interval %v is below the scheduler minimum of %v", spec.Interval, MinJobInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[spec.Name]; exists {
		s.logger.WithField("job", spec.Name).Debug("Job already scheduled, keeping existing registration")
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	scheduled := &scheduledJob{
		spec:   spec,
		job:    job,
		cancel: cancel,
		runNow: make(chan struct{}, 1),
		status: StatusEnqueued,
	}
	s.jobs[spec.Name] = scheduled

	go s.loop(jobCtx, scheduled)

	s.logger.WithFields(logrus.Fields{
		"job":      spec.Name,
		"interval": spec.Interval,
	}).Info("Background job registered")
	return nil
}

func (s *InProcessScheduler) loop(ctx context.Context, j *scheduledJob) {
	ticker := time.NewTicker(j.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		case <-j.runNow:
			s.fire(ctx, j)
		}
	}
}

// fire runs one job execution. A network-constrained firing is deferred, not
// skipped, while offline. Transient failures retry with exponential backoff;
// a backoff.Permanent error ends the firing immediately.
func (s *InProcessScheduler) fire(ctx context.Context, j *scheduledJob) {
	logger := s.logger.WithField("job", j.spec.Name)

	if j.spec.RequiresNetwork && !s.network.IsOnline() {
		j.setStatus(StatusEnqueued)
		if !s.awaitNetwork(ctx) {
			return
		}
	}

	j.setStatus(StatusRunning)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, j.job.Run(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(4))

	if err != nil {
		logger.WithError(err).Warn("Background job firing failed")
		j.setStatus(StatusFailed)
		return
	}
	j.setStatus(StatusSucceeded)
	logger.Debug("Background job firing succeeded")
}

// awaitNetwork blocks a deferred firing until the network returns. False
// means the job was cancelled while waiting.
func (s *InProcessScheduler) awaitNetwork(ctx context.Context) bool {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.network.IsOnline() {
				return true
			}
		}
	}
}

// RunNow executes a registered job once, outside its periodic schedule.
func (s *InProcessScheduler) RunNow(name string) error {
	s.mu.Lock()
	j, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job not scheduled: %s", name)
	}

	select {
	case j.runNow <- struct{}{}:
	default:
		// A one-shot request is already pending; one execution covers both.
	}
	return nil
}

// Cancel removes a registration. Future firings stop; a firing already
// executing completes normally.
func (s *InProcessScheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job not scheduled: %s", name)
	}

	j.cancel()
	delete(s.jobs, name)
	s.logger.WithField("job", name).Info("Background job cancelled")
	return nil
}

// Status reports a job's state; unknown names are not scheduled.
func (s *InProcessScheduler) Status(name string) JobStatus {
	s.mu.Lock()
	j, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return StatusNotScheduled
	}
	return j.getStatus()
}
