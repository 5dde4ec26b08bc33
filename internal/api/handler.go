package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/motium-app/sync-agent/internal/db"
	"github.com/motium-app/sync-agent/internal/models"
)

// SyncService is the handler's view of the sync orchestrator
type SyncService interface {
	// ForceSyncNow runs a sync pass now; guards still apply
	ForceSyncNow(ctx context.Context) bool

	// Stats returns a read-only snapshot for diagnostics
	Stats(ctx context.Context) (*models.SyncStats, error)
}

// TokenService is the handler's view of the token refresh coordinator
type TokenService interface {
	// RefreshIfNeeded refreshes the credential, serialized and throttled
	RefreshIfNeeded(ctx context.Context, force bool) bool

	// TimeUntilExpirySeconds returns seconds until expiry or nil
	TimeUntilExpirySeconds() *int64
}

// OperationQueue records local mutations and exposes the backlog
type OperationQueue interface {
	Enqueue(ctx context.Context, opType models.OperationType, entityType models.EntityType, entityID string, payload json.RawMessage) (string, error)
	ListPending(ctx context.Context) ([]*models.PendingOperation, error)
	ListDeadLetter(ctx context.Context) ([]*models.DeadLetterOperation, error)
}

// Handler serves the local diagnostics/control API. It is the in-process
// stand-in for the UI: entity mutations land in local storage and enqueue a
// pending operation synchronously, exactly like a screen-level save.
type Handler struct {
	store  db.Store
	queue  OperationQueue
	syncer SyncService
	tokens TokenService
	logger *logrus.Logger
}

func NewHandler(store db.Store, queue OperationQueue, syncer SyncService, tokens TokenService, logger *logrus.Logger) *Handler {
	return &Handler{
		store:  store,
		queue:  queue,
		syncer: syncer,
		tokens: tokens,
		logger: logger,
	}
}

// GetSyncStats returns the orchestrator's diagnostic snapshot
// @Summary Get sync status
// @Tags sync
// @Produce json
// @Success 200 {object} models.SyncStats
// @Router /sync/status [get]
func (h *Handler) GetSyncStats(c *gin.Context) {
	stats, err := h.syncer.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read sync stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ForceSync triggers a sync pass outside the timer
// @Summary Force a sync pass now
// @Tags sync
// @Produce json
// @Success 202 {object} map[string]interface{}
// @Router /sync/now [post]
func (h *Handler) ForceSync(c *gin.Context) {
	started := h.syncer.ForceSyncNow(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"synced": started})
}

// ListPendingOperations returns the queue backlog and dead-lettered ops
// @Summary List pending operations
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sync/pending [get]
func (h *Handler) ListPendingOperations(c *gin.Context) {
	pending, err := h.queue.ListPending(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list pending operations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending operations"})
		return
	}

	dead, err := h.queue.ListDeadLetter(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list dead letter operations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letter operations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending, "dead_letter": dead})
}

// RefreshToken forces a credential refresh
// @Summary Force a token refresh
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /auth/refresh [post]
func (h *Handler) RefreshToken(c *gin.Context) {
	ok := h.tokens.RefreshIfNeeded(c.Request.Context(), true)
	resp := gin.H{"refreshed": ok}
	if secs := h.tokens.TimeUntilExpirySeconds(); secs != nil {
		resp["expires_in_seconds"] = *secs
	}
	c.JSON(http.StatusOK, resp)
}

// ListTrips returns locally stored trips
// @Summary List trips
// @Tags trips
// @Produce json
// @Success 200 {array} models.Trip
// @Router /trips [get]
func (h *Handler) ListTrips(c *gin.Context) {
	trips, err := h.store.ListTrips(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list trips")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trips"})
		return
	}
	c.JSON(http.StatusOK, trips)
}

// SaveTrip stores a trip locally and queues it for sync
// @Summary Create or update a trip
// @Tags trips
// @Accept json
// @Produce json
// @Success 201 {object} models.Trip
// @Router /trips [post]
func (h *Handler) SaveTrip(c *gin.Context) {
	var trip models.Trip
	if err := c.ShouldBindJSON(&trip); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip payload"})
		return
	}

	opType := models.OpUpdate
	if trip.ID == "" {
		trip.ID = uuid.NewString()
		opType = models.OpCreate
	}
	if trip.Status == "" {
		trip.Status = models.TripStatusCompleted
	}
	trip.Dirty = true
	trip.UpdatedAt = time.Now()

	if err := h.saveAndEnqueue(c.Request.Context(), models.EntityTrip, trip.ID, opType, &trip); err != nil {
		h.logger.WithError(err).Error("Failed to save trip")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save trip"})
		return
	}

	c.JSON(http.StatusCreated, trip)
}

// DeleteTrip removes a trip locally and queues the remote delete
// @Summary Delete a trip
// @Tags trips
// @Produce json
// @Success 204
// @Router /trips/{id} [delete]
func (h *Handler) DeleteTrip(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.store.DeleteTrip(ctx, id); err != nil {
		h.logger.WithError(err).Error("Failed to delete trip")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete trip"})
		return
	}
	if _, err := h.queue.Enqueue(ctx, models.OpDelete, models.EntityTrip, id, nil); err != nil {
		h.logger.WithError(err).Error("Failed to enqueue trip delete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue delete"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListVehicles returns locally stored vehicles
// @Summary List vehicles
// @Tags vehicles
// @Produce json
// @Success 200 {array} models.Vehicle
// @Router /vehicles [get]
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.store.ListVehicles(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list vehicles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list vehicles"})
		return
	}
	c.JSON(http.StatusOK, vehicles)
}

// SaveVehicle stores a vehicle locally and queues it for sync
// @Summary Create or update a vehicle
// @Tags vehicles
// @Accept json
// @Produce json
// @Success 201 {object} models.Vehicle
// @Router /vehicles [post]
func (h *Handler) SaveVehicle(c *gin.Context) {
	var vehicle models.Vehicle
	if err := c.ShouldBindJSON(&vehicle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vehicle payload"})
		return
	}
	if vehicle.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vehicle name is required"})
		return
	}

	opType := models.OpUpdate
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
		opType = models.OpCreate
	}
	vehicle.Dirty = true
	vehicle.UpdatedAt = time.Now()

	if err := h.saveAndEnqueue(c.Request.Context(), models.EntityVehicle, vehicle.ID, opType, &vehicle); err != nil {
		h.logger.WithError(err).Error("Failed to save vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save vehicle"})
		return
	}

	c.JSON(http.StatusCreated, vehicle)
}

// DeleteVehicle removes a vehicle locally and queues the remote delete
// @Summary Delete a vehicle
// @Tags vehicles
// @Produce json
// @Success 204
// @Router /vehicles/{id} [delete]
func (h *Handler) DeleteVehicle(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.store.DeleteVehicle(ctx, id); err != nil {
		h.logger.WithError(err).Error("Failed to delete vehicle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete vehicle"})
		return
	}
	if _, err := h.queue.Enqueue(ctx, models.OpDelete, models.EntityVehicle, id, nil); err != nil {
		h.logger.WithError(err).Error("Failed to enqueue vehicle delete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue delete"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Health reports liveness
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// saveAndEnqueue is the local-mutation path: persist the entity marked dirty,
// then record the pending operation so the mutation survives offline.
func (h *Handler) saveAndEnqueue(ctx context.Context, entityType models.EntityType, entityID string, opType models.OperationType, entity interface{}) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	switch entityType {
	case models.EntityTrip:
		err = h.store.UpsertTrip(ctx, entity.(*models.Trip))
	case models.EntityVehicle:
		err = h.store.UpsertVehicle(ctx, entity.(*models.Vehicle))
	}
	if err != nil {
		return err
	}

	_, err = h.queue.Enqueue(ctx, opType, entityType, entityID, payload)
	return err
}
