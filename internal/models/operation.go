package models

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of local mutation a pending operation records.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// PendingOperation is a durable record of a local mutation awaiting remote
// confirmation. It stays queued until its remote apply succeeds.
type PendingOperation struct {
	ID          string          `json:"id"`
	Type        OperationType   `json:"type"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retry_count"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
}

// DeadLetterOperation is a pending operation that exhausted its retry budget
// and was set aside instead of being retried forever.
type DeadLetterOperation struct {
	PendingOperation
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}
