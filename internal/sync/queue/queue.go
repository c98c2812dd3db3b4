// Package queue manages the durable pending-operation queue for offline
// mutations, with deduplication and retry/backoff.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/models"
)

// Store persists the whole queue read-modify-write style so concurrent
// sync triggers cannot lose updates.
type Store interface {
	PendingOps() ([]models.PendingOp, error)
	ReplacePendingOps([]models.PendingOp) error
}

// Policy is the single retry/backoff policy used by the queue drainer.
type Policy struct {
	Ceiling   int           // attempts before an op is dropped
	BaseDelay time.Duration // first retry delay, doubled per attempt
	MaxDelay  time.Duration // backoff cap
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Ceiling:   5,
		BaseDelay: 2 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// NextDelay returns the exponential backoff delay after retryCount
// failed attempts.
func (p Policy) NextDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := p.BaseDelay << uint(retryCount-1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// Queue holds pending remote mutations in FIFO enqueue order. At most one
// op per (kind, visitor id) pair is retained; re-enqueueing updates the
// existing entry in place.
type Queue struct {
	mu     sync.Mutex
	store  Store
	policy Policy
	ops    []models.PendingOp
}

// NewQueue creates a queue backed by store, loading any persisted ops.
func NewQueue(store Store, policy Policy) (*Queue, error) {
	ops, err := store.PendingOps()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending queue: %w", err)
	}
	if policy.Ceiling <= 0 {
		policy = DefaultPolicy()
	}
	return &Queue{store: store, policy: policy, ops: ops}, nil
}

// EnqueueInsert records a not-yet-confirmed insert/upsert of a visitor.
func (q *Queue) EnqueueInsert(v models.Visitor) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal visitor payload: %w", err)
	}
	return q.enqueue(models.OpInsert, v.ID, payload)
}

// EnqueueDelete records a not-yet-confirmed delete of a visitor id.
func (q *Queue) EnqueueDelete(id int64) error {
	return q.enqueue(models.OpDelete, id, nil)
}

func (q *Queue) enqueue(kind models.OpKind, visitorID int64, payload json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().Unix()

	for i := range q.ops {
		if q.ops[i].Kind == kind && q.ops[i].VisitorID == visitorID {
			// Collapse into update-in-place: fresh payload, fresh retries,
			// original queue position.
			q.ops[i].Payload = payload
			q.ops[i].RetryCount = 0
			q.ops[i].NextRetryAt = now
			q.ops[i].UpdatedAt = now
			return q.persistLocked()
		}
	}

	q.ops = append(q.ops, models.PendingOp{
		ID:          uuid.New().String(),
		Kind:        kind,
		VisitorID:   visitorID,
		Payload:     payload,
		RetryCount:  0,
		NextRetryAt: now,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	})

	logging.Debug("Enqueued pending op",
		map[string]interface{}{"kind": string(kind), "visitor_id": visitorID})

	return q.persistLocked()
}

// Drainable returns the ops ready for a drain attempt at now, in drain
// order: deletes before inserts, except that ops for an id carrying both
// kinds keep their FIFO enqueue order so a newer local edit is not
// shadowed by a stale delete.
func (q *Queue) Drainable(now time.Time) []models.PendingOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Unix()

	kinds := make(map[int64]map[models.OpKind]bool)
	for _, op := range q.ops {
		if kinds[op.VisitorID] == nil {
			kinds[op.VisitorID] = make(map[models.OpKind]bool)
		}
		kinds[op.VisitorID][op.Kind] = true
	}
	both := func(id int64) bool { return len(kinds[id]) > 1 }

	var paired, deletes, inserts []models.PendingOp
	for _, op := range q.ops {
		if op.NextRetryAt > cutoff {
			continue
		}
		switch {
		case both(op.VisitorID):
			paired = append(paired, op)
		case op.Kind == models.OpDelete:
			deletes = append(deletes, op)
		default:
			inserts = append(inserts, op)
		}
	}

	ordered := make([]models.PendingOp, 0, len(paired)+len(deletes)+len(inserts))
	ordered = append(ordered, paired...)
	ordered = append(ordered, deletes...)
	ordered = append(ordered, inserts...)
	return ordered
}

// Complete removes a confirmed op from the queue.
func (q *Queue) Complete(opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID == opID {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return q.persistLocked()
		}
	}
	return fmt.Errorf("pending op %s not found", opID)
}

// Fail records a failed attempt. When the retry ceiling is reached the op
// is dropped from the queue with a diagnostic record; dropping bounds
// queue growth and is the accepted degradation for this domain.
func (q *Queue) Fail(opID string, cause error) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID != opID {
			continue
		}

		q.ops[i].RetryCount++
		q.ops[i].UpdatedAt = time.Now().Unix()

		if q.ops[i].RetryCount >= q.policy.Ceiling {
			op := q.ops[i]
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			logging.ErrorWithCode("Dropping pending op after retry ceiling",
				string(apperrors.ErrOpDropped), cause,
				map[string]interface{}{
					"kind":       string(op.Kind),
					"visitor_id": op.VisitorID,
					"attempts":   op.RetryCount,
					"payload":    string(op.Payload),
				})
			return true, q.persistLocked()
		}

		delay := q.policy.NextDelay(q.ops[i].RetryCount)
		q.ops[i].NextRetryAt = time.Now().Add(delay).Unix()

		logging.Warn("Pending op failed, scheduling retry",
			map[string]interface{}{
				"kind":          string(q.ops[i].Kind),
				"visitor_id":    q.ops[i].VisitorID,
				"retry":         q.ops[i].RetryCount,
				"ceiling":       q.policy.Ceiling,
				"delay_seconds": delay.Seconds(),
				"error":         cause.Error(),
			})

		return false, q.persistLocked()
	}

	return false, fmt.Errorf("pending op %s not found", opID)
}

// Ops returns a snapshot of the queue in FIFO order.
func (q *Queue) Ops() []models.PendingOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]models.PendingOp, len(q.ops))
	copy(ops, q.ops)
	return ops
}

// Len returns the number of pending ops.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Has reports whether an op of the given kind is pending for a visitor id.
func (q *Queue) Has(kind models.OpKind, visitorID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.Kind == kind && op.VisitorID == visitorID {
			return true
		}
	}
	return false
}

// Clear removes all pending ops.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = nil
	return q.persistLocked()
}

func (q *Queue) persistLocked() error {
	return q.store.ReplacePendingOps(q.ops)
}
