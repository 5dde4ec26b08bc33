package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motium-app/sync-agent/internal/db"
	"github.com/motium-app/sync-agent/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type enqueued struct {
	opType     models.OperationType
	entityType models.EntityType
	entityID   string
	payload    json.RawMessage
}

type fakeQueue struct {
	ops  []enqueued
	dead []*models.DeadLetterOperation
}

func (f *fakeQueue) Enqueue(_ context.Context, opType models.OperationType, entityType models.EntityType, entityID string, payload json.RawMessage) (string, error) {
	f.ops = append(f.ops, enqueued{opType, entityType, entityID, payload})
	return uuid.NewString(), nil
}

func (f *fakeQueue) ListPending(_ context.Context) ([]*models.PendingOperation, error) {
	pending := make([]*models.PendingOperation, 0, len(f.ops))
	for _, op := range f.ops {
		pending = append(pending, &models.PendingOperation{
			ID:         uuid.NewString(),
			Type:       op.opType,
			EntityType: op.entityType,
			EntityID:   op.entityID,
			Payload:    op.payload,
		})
	}
	return pending, nil
}

func (f *fakeQueue) ListDeadLetter(_ context.Context) ([]*models.DeadLetterOperation, error) {
	return f.dead, nil
}

type fakeSyncer struct {
	forced bool
	synced bool
	stats  *models.SyncStats
}

func (f *fakeSyncer) ForceSyncNow(_ context.Context) bool {
	f.forced = true
	return f.synced
}

func (f *fakeSyncer) Stats(_ context.Context) (*models.SyncStats, error) {
	return f.stats, nil
}

type fakeTokens struct {
	refreshed bool
	result    bool
	expiresIn *int64
}

func (f *fakeTokens) RefreshIfNeeded(_ context.Context, force bool) bool {
	f.refreshed = true
	return f.result
}

func (f *fakeTokens) TimeUntilExpirySeconds() *int64 { return f.expiresIn }

type apiRig struct {
	router *gin.Engine
	store  db.Store
	queue  *fakeQueue
	syncer *fakeSyncer
	tokens *fakeTokens
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	rig := &apiRig{
		store:  db.NewSQLiteStore(database),
		queue:  &fakeQueue{},
		syncer: &fakeSyncer{synced: true, stats: &models.SyncStats{PendingOperations: 2, IsNetworkAvailable: true}},
		tokens: &fakeTokens{result: true},
	}
	rig.router = SetupRouter(NewHandler(rig.store, rig.queue, rig.syncer, rig.tokens, logger))
	return rig
}

func (r *apiRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func TestSaveTripPersistsAndEnqueues(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/trips", map[string]interface{}{
		"started_at":      time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		"distance_meters": 4200,
		"status":          models.TripStatusCompleted,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Trip
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID, "a create without an id gets one assigned")

	stored, err := rig.store.GetTrip(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Dirty, "a local mutation is dirty until pushed")

	require.Len(t, rig.queue.ops, 1)
	assert.Equal(t, models.OpCreate, rig.queue.ops[0].opType)
	assert.Equal(t, models.EntityTrip, rig.queue.ops[0].entityType)
	assert.Equal(t, created.ID, rig.queue.ops[0].entityID)
}

func TestSaveTripWithIdIsAnUpdate(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPut, "/api/v1/trips", map[string]interface{}{
		"id":         "trip-1",
		"started_at": time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, rig.queue.ops, 1)
	assert.Equal(t, models.OpUpdate, rig.queue.ops[0].opType)
	assert.Equal(t, "trip-1", rig.queue.ops[0].entityID)
}

func TestSaveTripRejectsBadPayload(t *testing.T) {
	rig := newAPIRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trips", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rig.queue.ops, "nothing is enqueued for an invalid payload")
}

func TestDeleteTripRemovesLocallyAndQueuesRemoteDelete(t *testing.T) {
	rig := newAPIRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.UpsertTrip(ctx, &models.Trip{ID: "trip-1", Status: models.TripStatusCompleted}))

	w := rig.do(t, http.MethodDelete, "/api/v1/trips/trip-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	stored, err := rig.store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	require.Len(t, rig.queue.ops, 1)
	assert.Equal(t, models.OpDelete, rig.queue.ops[0].opType)
	assert.Nil(t, rig.queue.ops[0].payload, "a delete carries no payload")
}

func TestSaveVehicleRequiresName(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/vehicles", map[string]interface{}{
		"plate": "AB-123-CD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rig.queue.ops)
}

func TestSaveVehiclePersistsAndEnqueues(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/vehicles", map[string]interface{}{
		"name":   "Kangoo",
		"active": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	require.Len(t, rig.queue.ops, 1)
	assert.Equal(t, models.OpCreate, rig.queue.ops[0].opType)
	assert.Equal(t, models.EntityVehicle, rig.queue.ops[0].entityType)
}

func TestGetSyncStats(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats models.SyncStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.PendingOperations)
	assert.True(t, stats.IsNetworkAvailable)
}

func TestForceSyncReturnsAccepted(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/sync/now", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, rig.syncer.forced)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["synced"])
}

func TestListPendingOperations(t *testing.T) {
	rig := newAPIRig(t)
	_, err := rig.queue.Enqueue(context.Background(), models.OpCreate, models.EntityTrip, "trip-1", json.RawMessage(`{"id":"trip-1"}`))
	require.NoError(t, err)

	w := rig.do(t, http.MethodGet, "/api/v1/sync/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pending    []*models.PendingOperation    `json:"pending"`
		DeadLetter []*models.DeadLetterOperation `json:"dead_letter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Pending, 1)
	assert.Empty(t, resp.DeadLetter)
}

func TestRefreshTokenForcesRefresh(t *testing.T) {
	rig := newAPIRig(t)
	expiresIn := int64(3600)
	rig.tokens.expiresIn = &expiresIn

	w := rig.do(t, http.MethodPost, "/api/v1/auth/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rig.tokens.refreshed)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["refreshed"])
	assert.Equal(t, float64(3600), resp["expires_in_seconds"])
}

func TestHealthz(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
