package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/motium-app/sync-agent/internal/models"
)

// Store defines the interface for local database operations
type Store interface {
	// Trip operations
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	ListTrips(ctx context.Context) ([]*models.Trip, error)
	ListDirtyTrips(ctx context.Context) ([]*models.Trip, error)
	UpsertTrip(ctx context.Context, trip *models.Trip) error
	DeleteTrip(ctx context.Context, id string) error
	ClearTripDirty(ctx context.Context, id string) error

	// Vehicle operations
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context) ([]*models.Vehicle, error)
	ListDirtyVehicles(ctx context.Context) ([]*models.Vehicle, error)
	UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	DeleteVehicle(ctx context.Context, id string) error
	ClearVehicleDirty(ctx context.Context, id string) error

	// Pending operation queue
	InsertPendingOperation(ctx context.Context, op *models.PendingOperation) error
	DeletePendingOperation(ctx context.Context, id string) error
	ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error)
	GetPendingOperation(ctx context.Context, id string) (*models.PendingOperation, error)
	MarkOperationFailed(ctx context.Context, id string, at time.Time) error
	CountPendingOperations(ctx context.Context) (int, error)
	MoveToDeadLetter(ctx context.Context, id, reason string, at time.Time) error
	ListDeadLetterOperations(ctx context.Context) ([]*models.DeadLetterOperation, error)
	CountDeadLetterOperations(ctx context.Context) (int, error)

	// Session persistence
	GetSession(ctx context.Context) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context) error
}

// SQLiteStore implements Store on the on-device SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const tripColumns = `id, vehicle_id, started_at, ended_at, start_latitude, start_longitude,
		end_latitude, end_longitude, distance_meters, activity, status, dirty, updated_at`

func scanTrip(row interface{ Scan(...interface{}) error }) (*models.Trip, error) {
	var t models.Trip
	var endedAt sql.NullTime
	if err := row.Scan(
		&t.ID,
		&t.VehicleID,
		&t.StartedAt,
		&endedAt,
		&t.StartLatitude,
		&t.StartLongitude,
		&t.EndLatitude,
		&t.EndLongitude,
		&t.DistanceMeters,
		&t.Activity,
		&t.Status,
		&t.Dirty,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t.EndedAt = &endedAt.Time
	}
	return &t, nil
}

func (s *SQLiteStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM trips WHERE id = ?", tripColumns), id)
	trip, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return trip, nil
}

func (s *SQLiteStore) listTrips(ctx context.Context, query string, args ...interface{}) ([]*models.Trip, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trips: %w", err)
	}

	return trips, nil
}

func (s *SQLiteStore) ListTrips(ctx context.Context) ([]*models.Trip, error) {
	return s.listTrips(ctx,
		fmt.Sprintf("SELECT %s FROM trips ORDER BY started_at DESC", tripColumns))
}

func (s *SQLiteStore) ListDirtyTrips(ctx context.Context) ([]*models.Trip, error) {
	return s.listTrips(ctx,
		fmt.Sprintf("SELECT %s FROM trips WHERE dirty = 1 ORDER BY started_at", tripColumns))
}

func (s *SQLiteStore) UpsertTrip(ctx context.Context, trip *models.Trip) error {
	var endedAt interface{}
	if trip.EndedAt != nil {
		endedAt = *trip.EndedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trips (id, vehicle_id, started_at, ended_at, start_latitude, start_longitude,
			end_latitude, end_longitude, distance_meters, activity, status, dirty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			vehicle_id = excluded.vehicle_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			start_latitude = excluded.start_latitude,
			start_longitude = excluded.start_longitude,
			end_latitude = excluded.end_latitude,
			end_longitude = excluded.end_longitude,
			distance_meters = excluded.distance_meters,
			activity = excluded.activity,
			status = excluded.status,
			dirty = excluded.dirty,
			updated_at = excluded.updated_at`,
		trip.ID,
		trip.VehicleID,
		trip.StartedAt,
		endedAt,
		trip.StartLatitude,
		trip.StartLongitude,
		trip.EndLatitude,
		trip.EndLongitude,
		trip.DistanceMeters,
		trip.Activity,
		trip.Status,
		trip.Dirty,
		trip.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trip %s: %w", trip.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTrip(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete trip %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ClearTripDirty(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE trips SET dirty = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to clear trip dirty marker: %w", err)
	}
	return nil
}

const vehicleColumns = "id, name, plate, kind, active, dirty, updated_at"

func scanVehicle(row interface{ Scan(...interface{}) error }) (*models.Vehicle, error) {
	var v models.Vehicle
	if err := row.Scan(&v.ID, &v.Name, &v.Plate, &v.Kind, &v.Active, &v.Dirty, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM vehicles WHERE id = ?", vehicleColumns), id)
	vehicle, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return vehicle, nil
}

func (s *SQLiteStore) listVehicles(ctx context.Context, query string, args ...interface{}) ([]*models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, vehicle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicles: %w", err)
	}

	return vehicles, nil
}

func (s *SQLiteStore) ListVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	return s.listVehicles(ctx,
		fmt.Sprintf("SELECT %s FROM vehicles ORDER BY name", vehicleColumns))
}

func (s *SQLiteStore) ListDirtyVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	return s.listVehicles(ctx,
		fmt.Sprintf("SELECT %s FROM vehicles WHERE dirty = 1 ORDER BY name", vehicleColumns))
}

func (s *SQLiteStore) UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, name, plate, kind, active, dirty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			plate = excluded.plate,
			kind = excluded.kind,
			active = excluded.active,
			dirty = excluded.dirty,
			updated_at = excluded.updated_at`,
		vehicle.ID,
		vehicle.Name,
		vehicle.Plate,
		vehicle.Kind,
		vehicle.Active,
		vehicle.Dirty,
		vehicle.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", vehicle.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteVehicle(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vehicles WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete vehicle %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ClearVehicleDirty(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE vehicles SET dirty = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to clear vehicle dirty marker: %w", err)
	}
	return nil
}

const operationColumns = "id, op_type, entity_type, entity_id, payload, created_at, retry_count, last_attempt"

func scanOperation(row interface{ Scan(...interface{}) error }) (*models.PendingOperation, error) {
	var op models.PendingOperation
	var lastAttempt sql.NullTime
	if err := row.Scan(
		&op.ID,
		&op.Type,
		&op.EntityType,
		&op.EntityID,
		&op.Payload,
		&op.Timestamp,
		&op.RetryCount,
		&lastAttempt,
	); err != nil {
		return nil, err
	}
	if lastAttempt.Valid {
		op.LastAttempt = &lastAttempt.Time
	}
	return &op, nil
}

func (s *SQLiteStore) InsertPendingOperation(ctx context.Context, op *models.PendingOperation) error {
	var lastAttempt interface{}
	if op.LastAttempt != nil {
		lastAttempt = *op.LastAttempt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations (id, op_type, entity_type, entity_id, payload, created_at, retry_count, last_attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID,
		op.Type,
		op.EntityType,
		op.EntityID,
		[]byte(op.Payload),
		op.Timestamp,
		op.RetryCount,
		lastAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending operation: %w", err)
	}
	return nil
}

// DeletePendingOperation removes an operation. Deleting an absent id is a
// no-op, so cleanup after a success reported elsewhere stays idempotent.
func (s *SQLiteStore) DeletePendingOperation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_operations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete pending operation %s: %w", id, err)
	}
	return nil
}

// ListPendingOperations returns queued operations in enqueue order.
func (s *SQLiteStore) ListPendingOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM pending_operations ORDER BY created_at, rowid", operationColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}

	return ops, nil
}

func (s *SQLiteStore) GetPendingOperation(ctx context.Context, id string) (*models.PendingOperation, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM pending_operations WHERE id = ?", operationColumns), id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteStore) MarkOperationFailed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pending_operations SET retry_count = retry_count + 1, last_attempt = ? WHERE id = ?",
		at, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CountPendingOperations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_operations").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// MoveToDeadLetter moves an operation out of the queue into the dead-letter
// table in a single transaction.
func (s *SQLiteStore) MoveToDeadLetter(ctx context.Context, id, reason string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letter_operations (id, op_type, entity_type, entity_id, payload, created_at, retry_count, last_attempt, reason, failed_at)
		SELECT id, op_type, entity_type, entity_id, payload, created_at, retry_count, last_attempt, ?, ?
		FROM pending_operations WHERE id = ?`,
		reason, at, id)
	if err != nil {
		return fmt.Errorf("failed to copy operation %s to dead letter: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_operations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove dead-lettered operation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ListDeadLetterOperations(ctx context.Context) ([]*models.DeadLetterOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, entity_type, entity_id, payload, created_at, retry_count, last_attempt, reason, failed_at
		FROM dead_letter_operations ORDER BY failed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.DeadLetterOperation
	for rows.Next() {
		var op models.DeadLetterOperation
		var lastAttempt sql.NullTime
		if err := rows.Scan(
			&op.ID,
			&op.Type,
			&op.EntityType,
			&op.EntityID,
			&op.Payload,
			&op.Timestamp,
			&op.RetryCount,
			&lastAttempt,
			&op.Reason,
			&op.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter operation: %w", err)
		}
		if lastAttempt.Valid {
			op.LastAttempt = &lastAttempt.Time
		}
		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter operations: %w", err)
	}

	return ops, nil
}

func (s *SQLiteStore) CountDeadLetterOperations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_operations").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letter operations: %w", err)
	}
	return count, nil
}

// GetSession returns the persisted session, or nil when none exists.
func (s *SQLiteStore) GetSession(ctx context.Context) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT access_token, expires_at FROM session WHERE id = 1").
		Scan(&session.AccessToken, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, access_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		session.AccessToken, session.ExpiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
