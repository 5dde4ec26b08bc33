package syncer

import (
	"context"

	"github.com/motium-app/sync-agent/internal/models"
)

// OperationQueue defines the queue operations the orchestrator drains
type OperationQueue interface {
	// ListPending returns queued operations in enqueue order
	ListPending(ctx context.Context) ([]*models.PendingOperation, error)

	// Dequeue removes a confirmed operation; absent ids are a no-op
	Dequeue(ctx context.Context, id string) error

	// MarkFailed records a failed remote-apply attempt
	MarkFailed(ctx context.Context, id string) error

	// PendingCount returns the backlog size
	PendingCount(ctx context.Context) (int, error)

	// DeadLetterCount returns the number of permanently failed operations
	DeadLetterCount(ctx context.Context) (int, error)
}

// TokenCoordinator ensures credential freshness before remote calls
type TokenCoordinator interface {
	// RefreshIfNeeded refreshes the credential unless recently refreshed
	RefreshIfNeeded(ctx context.Context, force bool) bool
}

// SessionChecker answers the authentication guard
type SessionChecker interface {
	// HasSession reports whether any credential exists
	HasSession() bool
}

// LocalStore is the slice of local persistence the sync pass touches
type LocalStore interface {
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	ListDirtyTrips(ctx context.Context) ([]*models.Trip, error)
	UpsertTrip(ctx context.Context, trip *models.Trip) error
	ClearTripDirty(ctx context.Context, id string) error

	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListDirtyVehicles(ctx context.Context) ([]*models.Vehicle, error)
	UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	ClearVehicleDirty(ctx context.Context, id string) error
}

// RemoteAPI is the backend surface the sync pass depends on
type RemoteAPI interface {
	UpsertTrip(ctx context.Context, trip *models.Trip) error
	DeleteTrip(ctx context.Context, id string) error
	PullTrips(ctx context.Context) ([]*models.Trip, error)

	UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	DeleteVehicle(ctx context.Context, id string) error
	PullVehicles(ctx context.Context) ([]*models.Vehicle, error)
}

// NetworkMonitor is the connectivity signal
type NetworkMonitor interface {
	// IsOnline reports the last observed network state
	IsOnline() bool

	// Restored delivers one notification per offline-to-online transition
	Restored() <-chan struct{}
}
