package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStats is a read-only snapshot of the sync subsystem for diagnostics.
type SyncStats struct {
	PendingOperations    int       `json:"pending_operations"`
	DeadLetterOperations int       `json:"dead_letter_operations"`
	LastSuccessfulSyncAt time.Time `json:"last_successful_sync_at"`
	IsSyncing            bool      `json:"is_syncing"`
	IsNetworkAvailable   bool      `json:"is_network_available"`
}

// String returns the JSON string representation of the sync stats
func (s *SyncStats) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync stats: %v"}`, err)
	}
	return string(data)
}
