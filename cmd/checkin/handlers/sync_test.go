package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/sementesanta/checkin/backend/internal/sync"
)

// fakeSyncEngine is a canned-state engine for sync endpoint tests.
type fakeSyncEngine struct {
	status   syncpkg.Status
	lastSync *time.Time
	pending  int
	lastErr  error

	syncResult *syncpkg.Result
	syncErr    error
	forced     []bool
}

func (f *fakeSyncEngine) Status() syncpkg.Status { return f.status }
func (f *fakeSyncEngine) LastSync() *time.Time   { return f.lastSync }
func (f *fakeSyncEngine) PendingChanges() int    { return f.pending }
func (f *fakeSyncEngine) LastError() error       { return f.lastErr }

func (f *fakeSyncEngine) Sync(ctx context.Context, force bool) (*syncpkg.Result, error) {
	f.forced = append(f.forced, force)
	return f.syncResult, f.syncErr
}

func TestGetStatus(t *testing.T) {
	t.Run("idle without pending is online", func(t *testing.T) {
		last := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
		h := NewSyncHandler(&fakeSyncEngine{status: syncpkg.StatusIdle, lastSync: &last})

		rec := httptest.NewRecorder()
		h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "idle", body["status"])
		assert.Equal(t, "online", body["connection"])
		assert.Equal(t, "2026-02-01T12:00:00Z", body["lastSync"])
		assert.Equal(t, float64(0), body["pendingChanges"])
	})

	t.Run("idle with pending work", func(t *testing.T) {
		h := NewSyncHandler(&fakeSyncEngine{status: syncpkg.StatusIdle, pending: 3})

		rec := httptest.NewRecorder()
		h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "online_pending", body["connection"])
		assert.Equal(t, float64(3), body["pendingChanges"])
	})

	t.Run("offline with last error", func(t *testing.T) {
		h := NewSyncHandler(&fakeSyncEngine{
			status:  syncpkg.StatusOffline,
			lastErr: errors.New("connectivity probe failed"),
		})

		rec := httptest.NewRecorder()
		h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "offline", body["connection"])
		assert.Equal(t, "connectivity probe failed", body["lastError"])
		assert.NotContains(t, body, "lastSync")
	})

	t.Run("syncing", func(t *testing.T) {
		h := NewSyncHandler(&fakeSyncEngine{status: syncpkg.StatusSyncing, pending: 1})

		rec := httptest.NewRecorder()
		h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "syncing", body["connection"])
	})
}

func TestTriggerSync(t *testing.T) {
	t.Run("completed sync reports counts", func(t *testing.T) {
		engine := &fakeSyncEngine{syncResult: &syncpkg.Result{
			Drained:  2,
			Pulled:   7,
			Duration: 120 * time.Millisecond,
		}}
		h := NewSyncHandler(engine)

		rec := httptest.NewRecorder()
		h.TriggerSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/now", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, engine.forced, 1)
		assert.True(t, engine.forced[0], "manual trigger must force past the cooldown")

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, float64(2), body["drained"])
		assert.Equal(t, float64(7), body["pulled"])
	})

	t.Run("coalesced sync reports in progress", func(t *testing.T) {
		h := NewSyncHandler(&fakeSyncEngine{})

		rec := httptest.NewRecorder()
		h.TriggerSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/now", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "in_progress", body["status"])
	})

	t.Run("failed sync reports bad gateway", func(t *testing.T) {
		h := NewSyncHandler(&fakeSyncEngine{syncErr: errors.New("remote pull failed")})

		rec := httptest.NewRecorder()
		h.TriggerSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/now", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, "remote pull failed", body["error"])
	})
}
