package handlers

import (
	"context"
	"net/http"
	"time"

	syncpkg "github.com/sementesanta/checkin/backend/internal/sync"
)

// SyncEngine is the engine surface the sync endpoints consume.
type SyncEngine interface {
	Status() syncpkg.Status
	LastSync() *time.Time
	PendingChanges() int
	LastError() error
	Sync(ctx context.Context, force bool) (*syncpkg.Result, error)
}

// SyncHandler serves sync status and manual sync triggering.
type SyncHandler struct {
	engine SyncEngine
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine SyncEngine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// GetStatus handles GET /api/sync/status. The connection field collapses
// engine state and queue depth into what the front-end badge shows:
// online, online_pending, offline, or syncing.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	pending := h.engine.PendingChanges()

	connection := "online"
	switch {
	case status == syncpkg.StatusSyncing:
		connection = "syncing"
	case status == syncpkg.StatusOffline:
		connection = "offline"
	case pending > 0:
		connection = "online_pending"
	}

	response := map[string]interface{}{
		"status":         string(status),
		"connection":     connection,
		"pendingChanges": pending,
	}

	if last := h.engine.LastSync(); last != nil {
		response["lastSync"] = last.UTC().Format(time.RFC3339)
	}
	if err := h.engine.LastError(); err != nil {
		response["lastError"] = err.Error()
	}

	respondJSON(w, http.StatusOK, response)
}

// TriggerSync handles POST /api/sync/now, running a forced sync and
// waiting for its outcome.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := h.engine.Sync(ctx, true)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	if result == nil {
		// Coalesced with a sync already in flight.
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "in_progress",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "completed",
		"drained":     result.Drained,
		"dropped":     result.Dropped,
		"pulled":      result.Pulled,
		"duration_ms": result.Duration.Milliseconds(),
	})
}
