// Package sync provides the offline-first reconciliation engine.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/models"
	"github.com/sementesanta/checkin/backend/internal/remote"
	"github.com/sementesanta/checkin/backend/internal/sync/queue"
)

// Status represents the engine state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusOffline Status = "offline"
)

// LocalStore is the durable per-device persistence consumed by the engine.
type LocalStore interface {
	Visitors() ([]models.Visitor, error)
	ReplaceVisitors([]models.Visitor) error
	UpsertVisitor(models.Visitor) error
	DeleteVisitor(int64) error
	LastSync() (time.Time, error)
	SetLastSync(time.Time) error
}

// EventHandler receives engine notifications. All methods must be
// non-blocking; they are invoked from engine goroutines.
type EventHandler interface {
	SyncStarted()
	SyncCompleted(result *Result)
	SyncFailed(err error)
	VisitorsChanged()
	ConnectivityChanged(online bool)
}

// Result represents the outcome of a full sync run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Drained   int // pending ops confirmed remotely
	Dropped   int // pending ops dropped at the retry ceiling
	Pulled    int // records fetched from the remote table
	Error     string
}

// Options tunes engine timing.
type Options struct {
	Cooldown       time.Duration // suppresses redundant syncs unless forced
	CallTimeout    time.Duration // bound on each remote call and probe
	ResyncThrottle time.Duration // gap between realtime-triggered resyncs
}

// DefaultOptions returns the default engine timing.
func DefaultOptions() Options {
	return Options{
		Cooldown:       30 * time.Second,
		CallTimeout:    5 * time.Second,
		ResyncThrottle: 5 * time.Second,
	}
}

// Engine reconciles the local store against the remote table and owns the
// in-memory merged visitor set. Mutations are optimistic: local state and
// subscribers see them before any remote confirmation.
type Engine struct {
	store   LocalStore
	gateway remote.Gateway
	queue   *queue.Queue
	opts    Options

	mu               stdsync.Mutex
	visitors         []models.Visitor
	status           Status
	syncing          bool
	lastSync         *time.Time
	lastErr          error
	lastAttempt      time.Time
	lastRealtimeSync time.Time
	handler          EventHandler
}

// NewEngine creates an engine over the given collaborators, loading the
// persisted visitor set into memory.
func NewEngine(store LocalStore, gateway remote.Gateway, q *queue.Queue, opts Options) (*Engine, error) {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOptions().Cooldown
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.ResyncThrottle <= 0 {
		opts.ResyncThrottle = DefaultOptions().ResyncThrottle
	}

	visitors, err := store.Visitors()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:    store,
		gateway:  gateway,
		queue:    q,
		opts:     opts,
		visitors: visitors,
		status:   StatusIdle,
	}

	if last, err := store.LastSync(); err == nil && !last.IsZero() {
		e.lastSync = &last
	}

	return e, nil
}

// SetEventHandler sets the handler for engine notifications.
func (e *Engine) SetEventHandler(h EventHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Snapshot returns a copy of the current merged visitor set.
func (e *Engine) Snapshot() []models.Visitor {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Visitor, len(e.visitors))
	copy(out, e.visitors)
	return out
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the timestamp of the last successful full sync.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of unconfirmed pending ops.
func (e *Engine) PendingChanges() int {
	return e.queue.Len()
}

// LastError returns the last sync error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// AddVisitor applies an optimistic insert: the visitor is visible locally
// before, and regardless of, any remote outcome. An id is assigned from
// the current time when absent. A failed or skipped remote write leaves a
// deduplicated pending op behind.
func (e *Engine) AddVisitor(ctx context.Context, v models.Visitor) (models.Visitor, error) {
	if v.ID == 0 {
		v.ID = time.Now().UnixMilli()
	}

	sv, ok := Sanitize(v)
	if !ok {
		return models.Visitor{}, apperrors.New(apperrors.ErrInvalid, "visitor id must be positive")
	}
	if sv.Name == "" {
		return models.Visitor{}, apperrors.New(apperrors.ErrValidation, "visitor name must not be empty")
	}

	e.mu.Lock()
	e.upsertLocked(sv)
	e.mu.Unlock()

	if err := e.store.UpsertVisitor(sv); err != nil {
		return models.Visitor{}, err
	}
	e.notifyVisitorsChanged()

	if e.Status() == StatusOffline {
		// Skip the doomed remote attempt, go straight to the queue.
		if err := e.queue.EnqueueInsert(sv); err != nil {
			logging.Error("Failed to enqueue pending insert", err,
				map[string]interface{}{"visitor_id": sv.ID})
		}
		return sv, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if err := e.gateway.UpsertBatch(cctx, []models.Visitor{sv}); err != nil {
		logging.Info("Remote upsert failed, visitor queued",
			map[string]interface{}{"visitor_id": sv.ID, "error": err.Error()})
		if qerr := e.queue.EnqueueInsert(sv); qerr != nil {
			logging.Error("Failed to enqueue pending insert", qerr,
				map[string]interface{}{"visitor_id": sv.ID})
		}
	}

	return sv, nil
}

// RemoveVisitor applies an optimistic delete. Removing an id the remote
// table does not know is success, not an error.
func (e *Engine) RemoveVisitor(ctx context.Context, id int64) error {
	e.mu.Lock()
	e.removeLocked(id)
	e.mu.Unlock()

	if err := e.store.DeleteVisitor(id); err != nil {
		return err
	}
	e.notifyVisitorsChanged()

	if e.Status() == StatusOffline {
		if err := e.queue.EnqueueDelete(id); err != nil {
			logging.Error("Failed to enqueue pending delete", err,
				map[string]interface{}{"visitor_id": id})
		}
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	err := e.gateway.DeleteBatch(cctx, []int64{id})
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		logging.Info("Remote delete failed, delete queued",
			map[string]interface{}{"visitor_id": id, "error": err.Error()})
		if qerr := e.queue.EnqueueDelete(id); qerr != nil {
			logging.Error("Failed to enqueue pending delete", qerr,
				map[string]interface{}{"visitor_id": id})
		}
	}

	return nil
}

// Sync performs a full sync: connectivity probe, pending queue drain,
// remote pull, merge, persist. Only one sync runs at a time; overlapping
// or rapid-fire triggers are coalesced into a silent no-op (nil result)
// unless force bypasses the cooldown window.
func (e *Engine) Sync(ctx context.Context, force bool) (*Result, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		logging.Debug("Sync already in progress, coalescing trigger")
		return nil, nil
	}
	if !force && time.Since(e.lastAttempt) < e.opts.Cooldown {
		e.mu.Unlock()
		logging.Debug("Sync within cooldown window, skipping")
		return nil, nil
	}
	e.syncing = true
	e.status = StatusSyncing
	e.lastAttempt = time.Now()
	e.lastErr = nil
	handler := e.handler
	e.mu.Unlock()

	if handler != nil {
		handler.SyncStarted()
	}

	result := &Result{StartTime: time.Now()}

	fail := func(status Status, err error) (*Result, error) {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Error = err.Error()

		e.mu.Lock()
		e.syncing = false
		e.status = status
		e.lastErr = err
		e.mu.Unlock()

		if handler != nil {
			handler.SyncFailed(err)
			if status == StatusOffline {
				handler.ConnectivityChanged(false)
			}
		}
		return result, err
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, e.opts.CallTimeout)
	reachable := e.gateway.TestConnectivity(probeCtx)
	cancelProbe()
	if !reachable {
		return fail(StatusOffline, apperrors.New(apperrors.ErrRemoteUnavailable, "connectivity probe failed"))
	}

	result.Drained, result.Dropped = e.drainQueue(ctx)

	fetchCtx, cancelFetch := context.WithTimeout(ctx, e.opts.CallTimeout)
	remoteVisitors, err := e.gateway.FetchAll(fetchCtx)
	cancelFetch()
	if err != nil {
		return fail(StatusOffline, apperrors.Wrap(apperrors.ErrSyncFailed, "remote pull failed", err))
	}
	result.Pulled = len(remoteVisitors)

	// Merge with remote authoritative, then re-apply pending ops on top so
	// queued local mutations are never shadowed by a stale remote copy.
	e.mu.Lock()
	merged := MergeVisitors(e.visitors, remoteVisitors)
	merged = applyPending(merged, e.queue.Ops())
	e.visitors = merged
	e.mu.Unlock()

	if err := e.store.ReplaceVisitors(merged); err != nil {
		return fail(StatusIdle, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to persist merged set", err))
	}

	now := time.Now()
	if err := e.store.SetLastSync(now); err != nil {
		logging.Error("Failed to persist last sync timestamp", err)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.syncing = false
	e.status = StatusIdle
	e.lastSync = &now
	e.mu.Unlock()

	e.notifyVisitorsChanged()
	if handler != nil {
		handler.SyncCompleted(result)
		handler.ConnectivityChanged(true)
	}

	logging.Info("Sync completed", map[string]interface{}{
		"drained": result.Drained,
		"dropped": result.Dropped,
		"pulled":  result.Pulled,
	})

	return result, nil
}

// ProcessPendingQueue drains the pending queue without a full pull. When
// the backend is unreachable the queue is left intact and the error code
// reports the failed probe.
func (e *Engine) ProcessPendingQueue(ctx context.Context) (processed, dropped int, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	reachable := e.gateway.TestConnectivity(probeCtx)
	cancel()
	if !reachable {
		logging.Debug("Backend unreachable, keeping pending queue")
		return 0, 0, apperrors.New(apperrors.ErrRemoteUnavailable, "connectivity probe failed")
	}

	processed, dropped = e.drainQueue(ctx)
	return processed, dropped, nil
}

// drainQueue attempts every ready pending op once. Failures increment the
// op's retry count; ops at the ceiling are dropped by the queue.
func (e *Engine) drainQueue(ctx context.Context) (processed, dropped int) {
	for _, op := range e.queue.Drainable(time.Now()) {
		select {
		case <-ctx.Done():
			return processed, dropped
		default:
		}

		cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		var err error
		switch op.Kind {
		case models.OpInsert:
			var v *models.Visitor
			if v, err = op.Visitor(); err == nil {
				err = e.gateway.UpsertBatch(cctx, []models.Visitor{*v})
			} else {
				// Malformed payload can never succeed, remove it.
				logging.Error("Discarding malformed pending insert", err,
					map[string]interface{}{"visitor_id": op.VisitorID})
				cancel()
				e.queue.Complete(op.ID)
				continue
			}
		case models.OpDelete:
			err = e.gateway.DeleteBatch(cctx, []int64{op.VisitorID})
			if apperrors.Is(err, apperrors.ErrNotFound) {
				// Already gone remotely: the delete is satisfied.
				err = nil
			}
		}
		cancel()

		if err == nil {
			if cerr := e.queue.Complete(op.ID); cerr == nil {
				processed++
			}
			continue
		}

		if wasDropped, _ := e.queue.Fail(op.ID, err); wasDropped {
			dropped++
		}
	}
	return processed, dropped
}

// HandleRemoteEvent applies an out-of-band change pushed by the backend.
// Inserts and deletes are merged directly without a full resync; anything
// else funnels into a throttled full sync so bursty change traffic cannot
// trigger a resync storm.
func (e *Engine) HandleRemoteEvent(ev remote.ChangeEvent) {
	switch ev.Type {
	case remote.ChangeInsert:
		if ev.Record == nil {
			e.throttledResync()
			return
		}
		sv, ok := Sanitize(*ev.Record)
		if !ok {
			return
		}
		// A pending local op for this id wins until it is drained.
		if e.queue.Has(models.OpInsert, sv.ID) || e.queue.Has(models.OpDelete, sv.ID) {
			return
		}
		e.mu.Lock()
		e.upsertLocked(sv)
		e.mu.Unlock()
		if err := e.store.UpsertVisitor(sv); err != nil {
			logging.Error("Failed to persist pushed record", err,
				map[string]interface{}{"visitor_id": sv.ID})
		}
		e.notifyVisitorsChanged()

	case remote.ChangeDelete:
		id := ev.ID
		if id == 0 && ev.Record != nil {
			id = ev.Record.ID
		}
		if id == 0 {
			return
		}
		// Never roll back a newer local insert still awaiting delivery.
		if e.queue.Has(models.OpInsert, id) {
			return
		}
		e.mu.Lock()
		e.removeLocked(id)
		e.mu.Unlock()
		if err := e.store.DeleteVisitor(id); err != nil {
			logging.Error("Failed to remove pushed delete", err,
				map[string]interface{}{"visitor_id": id})
		}
		e.notifyVisitorsChanged()

	default:
		e.throttledResync()
	}
}

// ConnectivityChanged feeds online/offline signals into the engine. Going
// online triggers an immediate forced sync; going offline parks the
// engine so mutations queue directly.
func (e *Engine) ConnectivityChanged(online bool) {
	e.mu.Lock()
	handler := e.handler
	if !online {
		if !e.syncing {
			e.status = StatusOffline
		}
		e.mu.Unlock()
		if handler != nil {
			handler.ConnectivityChanged(false)
		}
		return
	}
	e.mu.Unlock()

	go e.Sync(context.Background(), true)
}

// throttledResync schedules a full sync, at most once per throttle window.
func (e *Engine) throttledResync() {
	e.mu.Lock()
	if time.Since(e.lastRealtimeSync) < e.opts.ResyncThrottle {
		e.mu.Unlock()
		return
	}
	e.lastRealtimeSync = time.Now()
	e.mu.Unlock()

	go e.Sync(context.Background(), true)
}

// upsertLocked replaces or appends a visitor in the in-memory set.
func (e *Engine) upsertLocked(v models.Visitor) {
	for i := range e.visitors {
		if e.visitors[i].ID == v.ID {
			e.visitors[i] = v
			return
		}
	}
	e.visitors = append(e.visitors, v)
}

// removeLocked drops a visitor from the in-memory set.
func (e *Engine) removeLocked(id int64) {
	for i := range e.visitors {
		if e.visitors[i].ID == id {
			e.visitors = append(e.visitors[:i], e.visitors[i+1:]...)
			return
		}
	}
}

func (e *Engine) notifyVisitorsChanged() {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler.VisitorsChanged()
	}
}

// applyPending re-applies unconfirmed local mutations on top of a merged
// set, in FIFO enqueue order.
func applyPending(merged []models.Visitor, ops []models.PendingOp) []models.Visitor {
	if len(ops) == 0 {
		return merged
	}

	byID := make(map[int64]models.Visitor, len(merged))
	order := make([]int64, 0, len(merged))
	for _, v := range merged {
		if _, seen := byID[v.ID]; !seen {
			order = append(order, v.ID)
		}
		byID[v.ID] = v
	}

	for _, op := range ops {
		switch op.Kind {
		case models.OpInsert:
			v, err := op.Visitor()
			if err != nil {
				continue
			}
			sv, ok := Sanitize(*v)
			if !ok {
				continue
			}
			if _, seen := byID[sv.ID]; !seen {
				order = append(order, sv.ID)
			}
			byID[sv.ID] = sv
		case models.OpDelete:
			delete(byID, op.VisitorID)
		}
	}

	out := make([]models.Visitor, 0, len(order))
	for _, id := range order {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
