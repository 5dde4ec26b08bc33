// Package syncer drives the sync passes: it exports pending local mutations
// to the backend, imports authoritative remote state, and adapts its polling
// cadence to the backlog.
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/motium-app/sync-agent/internal/config"
	apperrors "github.com/motium-app/sync-agent/internal/errors"
	"github.com/motium-app/sync-agent/internal/models"
)

// Orchestrator runs at most one sync pass at a time. A trigger arriving
// while a pass is in flight is dropped, not queued; the next scheduled
// trigger picks up whatever backlog remains.
type Orchestrator struct {
	queue    OperationQueue
	tokens   TokenCoordinator
	sessions SessionChecker
	store    LocalStore
	remote   RemoteAPI
	network  NetworkMonitor
	cfg      *config.SyncConfig
	logger   *logrus.Logger

	syncing atomic.Bool

	lastMu      sync.RWMutex
	lastSuccess time.Time

	now func() time.Time

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(
	queue OperationQueue,
	tokens TokenCoordinator,
	sessions SessionChecker,
	store LocalStore,
	remote RemoteAPI,
	network NetworkMonitor,
	cfg *config.SyncConfig,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		queue:    queue,
		tokens:   tokens,
		sessions: sessions,
		store:    store,
		remote:   remote,
		network:  network,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// PerformSync runs one sync pass and reports whether it succeeded. Guard
// rejections (no session, offline, pass already in flight) return false
// without side effects; they are expected steady-state conditions, not
// failures. No error escapes to the caller.
func (o *Orchestrator) PerformSync(ctx context.Context) (ok bool) {
	if !o.sessions.HasSession() {
		o.logger.Debug("Sync skipped: not authenticated")
		return false
	}
	if !o.network.IsOnline() {
		o.logger.Debug("Sync skipped: network unavailable")
		return false
	}
	// Single-flight guard: the check-and-set must be atomic against
	// concurrent invocations.
	if !o.syncing.CompareAndSwap(false, true) {
		o.logger.Debug("Sync skipped: pass already in flight")
		return false
	}
	defer o.syncing.Store(false)

	logger := o.logger.WithField("action", "sync_pass")
	started := o.now()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Sync pass panicked")
			ok = false
		}
	}()

	// Sync must never run remote calls on a credential that just failed to
	// refresh.
	if !o.tokens.RefreshIfNeeded(ctx, false) {
		logger.Warn("Sync aborted: token refresh failed")
		return false
	}

	if err := o.exportPending(ctx, logger); err != nil {
		logger.WithError(err).Error("Sync pass failed during export")
		return false
	}

	if err := o.exportDirty(ctx, logger); err != nil {
		logger.WithError(err).Error("Sync pass failed during dirty sweep")
		return false
	}

	if err := o.importRemote(ctx, logger); err != nil {
		logger.WithError(err).Error("Sync pass failed during import")
		return false
	}

	o.lastMu.Lock()
	o.lastSuccess = o.now()
	o.lastMu.Unlock()

	logger.WithField("duration", o.now().Sub(started)).Info("Sync pass completed")
	return true
}

// exportPending drains the queue. A single failing operation never blocks
// the rest of the batch: it is marked failed, stays queued, and the pass
// moves on. Only an unreadable queue fails the pass.
func (o *Orchestrator) exportPending(ctx context.Context, logger *logrus.Entry) error {
	ops, err := o.queue.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, op := range ops {
		opLogger := logger.WithFields(logrus.Fields{
			"operation_id": op.ID,
			"op_type":      op.Type,
			"entity_type":  op.EntityType,
			"entity_id":    op.EntityID,
		})

		if err := o.applyOperation(ctx, op); err != nil {
			opLogger.WithError(err).Warn("Remote apply failed, operation stays queued")
			if markErr := o.queue.MarkFailed(ctx, op.ID); markErr != nil {
				opLogger.WithError(markErr).Error("Failed to record operation failure")
			}
			continue
		}

		if err := o.queue.Dequeue(ctx, op.ID); err != nil {
			opLogger.WithError(err).Error("Failed to dequeue confirmed operation")
			continue
		}
		if op.Type != models.OpDelete {
			o.clearDirty(ctx, op.EntityType, op.EntityID, opLogger)
		}
		opLogger.Debug("Operation applied remotely")
	}

	return nil
}

// applyOperation dispatches one operation to the backend. CREATE and UPDATE
// are both upsert-style pushes; DELETE is a distinct remote delete.
func (o *Orchestrator) applyOperation(ctx context.Context, op *models.PendingOperation) error {
	opCtx, cancel := context.WithTimeout(ctx, o.cfg.RemoteTimeout)
	defer cancel()

	switch op.EntityType {
	case models.EntityTrip:
		if op.Type == models.OpDelete {
			return o.remote.DeleteTrip(opCtx, op.EntityID)
		}
		var trip models.Trip
		if err := json.Unmarshal(op.Payload, &trip); err != nil {
			return apperrors.NewPermanentError("undecodable trip payload", err)
		}
		return o.remote.UpsertTrip(opCtx, &trip)

	case models.EntityVehicle:
		if op.Type == models.OpDelete {
			return o.remote.DeleteVehicle(opCtx, op.EntityID)
		}
		var vehicle models.Vehicle
		if err := json.Unmarshal(op.Payload, &vehicle); err != nil {
			return apperrors.NewPermanentError("undecodable vehicle payload", err)
		}
		return o.remote.UpsertVehicle(opCtx, &vehicle)

	default:
		return apperrors.NewPermanentError("unknown entity type: "+string(op.EntityType), nil)
	}
}

func (o *Orchestrator) clearDirty(ctx context.Context, entityType models.EntityType, entityID string, logger *logrus.Entry) {
	var err error
	switch entityType {
	case models.EntityTrip:
		err = o.store.ClearTripDirty(ctx, entityID)
	case models.EntityVehicle:
		err = o.store.ClearVehicleDirty(ctx, entityID)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to clear dirty marker")
	}
}

// exportDirty pushes dirty entities that have no queued operation left, e.g.
// rows marked before a crash wiped the matching queue insert. Entities whose
// operations failed this pass keep their queue entry and are skipped here.
func (o *Orchestrator) exportDirty(ctx context.Context, logger *logrus.Entry) error {
	remaining, err := o.queue.ListPending(ctx)
	if err != nil {
		return err
	}
	queued := make(map[string]bool, len(remaining))
	for _, op := range remaining {
		queued[op.EntityID] = true
	}

	trips, err := o.store.ListDirtyTrips(ctx)
	if err != nil {
		return err
	}
	for _, trip := range trips {
		if queued[trip.ID] {
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, o.cfg.RemoteTimeout)
		err := o.remote.UpsertTrip(opCtx, trip)
		cancel()
		if err != nil {
			logger.WithError(err).WithField("trip_id", trip.ID).Warn("Failed to push dirty trip")
			continue
		}
		o.clearDirty(ctx, models.EntityTrip, trip.ID, logger)
	}

	vehicles, err := o.store.ListDirtyVehicles(ctx)
	if err != nil {
		return err
	}
	for _, vehicle := range vehicles {
		if queued[vehicle.ID] {
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, o.cfg.RemoteTimeout)
		err := o.remote.UpsertVehicle(opCtx, vehicle)
		cancel()
		if err != nil {
			logger.WithError(err).WithField("vehicle_id", vehicle.ID).Warn("Failed to push dirty vehicle")
			continue
		}
		o.clearDirty(ctx, models.EntityVehicle, vehicle.ID, logger)
	}

	return nil
}

// importRemote pulls the authoritative remote sets and reconciles them into
// local storage. A locally dirty row is not overwritten: its unexported
// change still has to win the next push.
func (o *Orchestrator) importRemote(ctx context.Context, logger *logrus.Entry) error {
	pullCtx, cancel := context.WithTimeout(ctx, o.cfg.RemoteTimeout)
	trips, err := o.remote.PullTrips(pullCtx)
	cancel()
	if err != nil {
		return err
	}

	for _, trip := range trips {
		local, err := o.store.GetTrip(ctx, trip.ID)
		if err != nil {
			return err
		}
		if local != nil && local.Dirty {
			continue
		}
		trip.Dirty = false
		if err := o.store.UpsertTrip(ctx, trip); err != nil {
			return err
		}
	}

	pullCtx, cancel = context.WithTimeout(ctx, o.cfg.RemoteTimeout)
	vehicles, err := o.remote.PullVehicles(pullCtx)
	cancel()
	if err != nil {
		return err
	}

	for _, vehicle := range vehicles {
		local, err := o.store.GetVehicle(ctx, vehicle.ID)
		if err != nil {
			return err
		}
		if local != nil && local.Dirty {
			continue
		}
		vehicle.Dirty = false
		if err := o.store.UpsertVehicle(ctx, vehicle); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"trips":    len(trips),
		"vehicles": len(vehicles),
	}).Debug("Imported remote state")
	return nil
}

// ForceSyncNow bypasses the timer but not the guards: "force" means don't
// wait for the schedule, not ignore preconditions.
func (o *Orchestrator) ForceSyncNow(ctx context.Context) bool {
	return o.PerformSync(ctx)
}

// nextInterval selects the polling cadence: aggressive while a backlog
// exists, relaxed once drained.
func (o *Orchestrator) nextInterval(ctx context.Context) time.Duration {
	count, err := o.queue.PendingCount(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to read backlog size, using default interval")
		return o.cfg.Interval
	}
	if count > 0 {
		return o.cfg.QuickInterval
	}
	return o.cfg.Interval
}

// StartPeriodicSync launches the in-process sync loop. Calling it while the
// loop is already running is a no-op.
func (o *Orchestrator) StartPeriodicSync(ctx context.Context) {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	if o.loopCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.loopCancel = cancel

	o.wg.Add(1)
	go o.run(loopCtx)
	o.logger.Info("Periodic sync started")
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	timer := time.NewTimer(o.nextInterval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// The pass runs on its own context: stopping the loop cancels
			// the timer, not a pass already past the guards.
			o.PerformSync(context.Background())
			timer.Reset(o.nextInterval(context.Background()))
		case <-o.network.Restored():
			o.onNetworkRestored(context.Background())
		}
	}
}

// onNetworkRestored triggers an immediate pass unless a sync completed
// recently and no backlog exists.
func (o *Orchestrator) onNetworkRestored(ctx context.Context) {
	o.lastMu.RLock()
	last := o.lastSuccess
	o.lastMu.RUnlock()

	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to read backlog size on network restore")
		pending = 0
	}

	if o.now().Sub(last) > o.cfg.MinTimeSinceLastSync || pending > 0 {
		o.logger.WithField("pending", pending).Info("Network restored, syncing now")
		o.PerformSync(ctx)
		return
	}
	o.logger.Debug("Network restored, sync skipped: recently synced and no backlog")
}

// StopPeriodicSync cancels the loop and waits for it to go quiet. An
// in-flight pass runs to completion first.
func (o *Orchestrator) StopPeriodicSync() {
	o.loopMu.Lock()
	cancel := o.loopCancel
	o.loopCancel = nil
	o.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
	o.logger.Info("Periodic sync stopped")
}

// Stats returns a read-only snapshot for diagnostics.
func (o *Orchestrator) Stats(ctx context.Context) (*models.SyncStats, error) {
	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	dead, err := o.queue.DeadLetterCount(ctx)
	if err != nil {
		return nil, err
	}

	o.lastMu.RLock()
	last := o.lastSuccess
	o.lastMu.RUnlock()

	return &models.SyncStats{
		PendingOperations:    pending,
		DeadLetterOperations: dead,
		LastSuccessfulSyncAt: last,
		IsSyncing:            o.syncing.Load(),
		IsNetworkAvailable:   o.network.IsOnline(),
	}, nil
}
