package models

import "time"

// EntityType identifies a synchronizable entity kind.
type EntityType string

const (
	EntityTrip    EntityType = "trip"
	EntityVehicle EntityType = "vehicle"
)

// SyncedEntityTypes lists every entity kind the sync pass covers, in the
// order they are exported and imported.
var SyncedEntityTypes = []EntityType{EntityTrip, EntityVehicle}

// TripStatus values as reported by the tracking layer.
const (
	TripStatusActive    = "active"
	TripStatusCompleted = "completed"
	TripStatusRejected  = "rejected"
)

// Trip is a recorded journey. Trips are created locally by the tracking
// layer and pushed to the backend by the sync agent.
type Trip struct {
	ID             string     `json:"id"`
	VehicleID      string     `json:"vehicle_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	StartLatitude  float64    `json:"start_latitude"`
	StartLongitude float64    `json:"start_longitude"`
	EndLatitude    float64    `json:"end_latitude"`
	EndLongitude   float64    `json:"end_longitude"`
	DistanceMeters float64    `json:"distance_meters"`
	Activity       string     `json:"activity,omitempty"`
	Status         string     `json:"status"`
	Dirty          bool       `json:"-"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Vehicle is a user-registered vehicle trips can be attributed to.
type Vehicle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plate     string    `json:"plate,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Active    bool      `json:"active"`
	Dirty     bool      `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}
