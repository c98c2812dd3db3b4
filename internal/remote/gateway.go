// Package remote provides the thin gateway to the hosted visitors table.
package remote

import (
	"context"

	"github.com/sementesanta/checkin/backend/internal/models"
)

// Gateway is the narrow CRUD surface of the remote visitors table. The
// gateway is stateless I/O: every network exception, timeout, or
// backend-reported failure surfaces as an ordinary error value, never a
// panic across this boundary.
type Gateway interface {
	// TestConnectivity is a cheap, bounded-time probe of the backend.
	TestConnectivity(ctx context.Context) bool

	// FetchAll returns every record in the remote table.
	FetchAll(ctx context.Context) ([]models.Visitor, error)

	// UpsertBatch inserts or updates records, conflict target id.
	// Inputs larger than the backend payload cap are chunked internally.
	UpsertBatch(ctx context.Context, visitors []models.Visitor) error

	// DeleteBatch deletes records by id. Deleting ids the backend does
	// not know is success, not an error (idempotent delete).
	DeleteBatch(ctx context.Context, ids []int64) error
}
