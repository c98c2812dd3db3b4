// Package models provides data model definitions for the check-in backend.
package models

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies the kind of a pending remote mutation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// PendingOp represents a local mutation not yet confirmed by the remote
// table. At most one pending op per (kind, visitor id) pair is retained;
// re-enqueueing collapses into an update of the existing entry.
type PendingOp struct {
	ID          string          `db:"id" json:"id"`
	Kind        OpKind          `db:"kind" json:"kind"`
	VisitorID   int64           `db:"visitor_id" json:"visitor_id"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"` // full visitor for inserts
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	EnqueuedAt  int64           `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PendingOp.
func (PendingOp) TableName() string {
	return "pending_ops"
}

// Visitor decodes the payload of an insert op.
func (op *PendingOp) Visitor() (*Visitor, error) {
	if op.Kind != OpInsert {
		return nil, fmt.Errorf("op %s has no visitor payload", op.Kind)
	}
	var v Visitor
	if err := json.Unmarshal(op.Payload, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visitor payload: %w", err)
	}
	return &v, nil
}
