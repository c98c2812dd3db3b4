// Package scheduler drives background synchronization: periodic full
// syncs, pending queue drains, and connectivity watchdog probes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/logging"
	syncpkg "github.com/sementesanta/checkin/backend/internal/sync"
)

// Engine is the subset of the sync engine the scheduler drives.
type Engine interface {
	Sync(ctx context.Context, force bool) (*syncpkg.Result, error)
	ProcessPendingQueue(ctx context.Context) (processed, dropped int, err error)
	PendingChanges() int
	Status() syncpkg.Status
	ConnectivityChanged(online bool)
}

// Config holds scheduler timing.
type Config struct {
	SyncInterval  time.Duration // gap between periodic full syncs
	QueueInterval time.Duration // gap between pending queue drain attempts
}

// DefaultConfig returns default scheduler timing.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  5 * time.Minute,
		QueueInterval: 1 * time.Minute,
	}
}

// Scheduler runs the engine's periodic work in background goroutines.
type Scheduler struct {
	engine        Engine
	syncInterval  time.Duration
	queueInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	isRunning     bool
}

// NewScheduler creates a scheduler over the given engine.
func NewScheduler(engine Engine, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Scheduler{
		engine:        engine,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background loops. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.queueDrainLoop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"queue_interval": s.queueInterval.String(),
	})
}

// Stop shuts the background loops down and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped")
}

// IsRunning reports whether the background loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TriggerSync starts an immediate forced sync in the background.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	go s.runSync(ctx, true)
}

// SyncNow runs a forced sync and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.Result, error) {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return s.engine.Sync(syncCtx, true)
}

// periodicSyncLoop performs a full sync on every tick. The engine's own
// single-flight guard coalesces overlap with manual or realtime syncs.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runSync(ctx, false)
		}
	}
}

// queueDrainLoop retries pending ops between full syncs so queued work is
// delivered soon after connectivity returns instead of waiting a full
// sync interval. Probing while offline doubles as the watchdog that
// flips the engine back online.
func (s *Scheduler) queueDrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainQueue(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context, force bool) {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := s.engine.Sync(syncCtx, force)
	if err != nil {
		logging.ErrorWithCode("Periodic sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"forced": force})
		return
	}
	if result == nil {
		// Coalesced with another sync in flight or within cooldown.
		return
	}

	logging.Debug("Periodic sync finished", map[string]interface{}{
		"drained": result.Drained,
		"dropped": result.Dropped,
		"pulled":  result.Pulled,
	})
}

func (s *Scheduler) drainQueue(ctx context.Context) {
	offline := s.engine.Status() == syncpkg.StatusOffline

	if s.engine.PendingChanges() == 0 && !offline {
		return
	}

	drainCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	processed, dropped, err := s.engine.ProcessPendingQueue(drainCtx)
	if err != nil {
		// Still unreachable, nothing else to do until the next tick.
		logging.Debug("Queue drain skipped", map[string]interface{}{"error": err.Error()})
		return
	}

	if offline {
		// The probe inside ProcessPendingQueue succeeded, so connectivity
		// is back. Let the engine schedule a full catch-up sync.
		s.engine.ConnectivityChanged(true)
		return
	}

	if processed > 0 || dropped > 0 {
		logging.Info("Pending queue drained", map[string]interface{}{
			"processed": processed,
			"dropped":   dropped,
		})
	}
}
