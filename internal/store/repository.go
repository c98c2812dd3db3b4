// Package store provides CRUD operations over the locally persisted state.
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/models"
)

const lastSyncKey = "last_sync"

// Repository owns all persisted state: the visitor collection, the pending
// operation queue, and sync metadata. Prepared statements are cached to
// avoid repeated SQL parsing.
type Repository struct {
	db         *sql.DB
	maxRecords int

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance. maxRecords bounds the
// visitor set when local storage runs out of space.
func NewRepository(db *sql.DB, maxRecords int) *Repository {
	if maxRecords <= 0 {
		maxRecords = 5000
	}
	return &Repository{db: db, maxRecords: maxRecords}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Visitor collection
// =====================================================

// Visitors returns the full persisted visitor set.
func (r *Repository) Visitors() ([]models.Visitor, error) {
	query := `
	SELECT id, name, phone, is_first_time, visit_date
	FROM visitors ORDER BY id
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query visitors", err)
	}
	defer rows.Close()

	var visitors []models.Visitor
	for rows.Next() {
		var v models.Visitor
		if err := rows.Scan(&v.ID, &v.Name, &v.Phone, &v.IsFirstTime, &v.Date); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan visitor", err)
		}
		visitors = append(visitors, v)
	}
	return visitors, rows.Err()
}

// ReplaceVisitors atomically replaces the persisted visitor set.
// On a storage-quota error the set is truncated to the most recent
// maxRecords entries (newest ids, since ids are creation timestamps) and
// the write retried once.
func (r *Repository) ReplaceVisitors(visitors []models.Visitor) error {
	err := r.replaceVisitorsTx(visitors)
	if err == nil || !isQuotaErr(err) {
		return err
	}

	logging.Warn("Local storage full, truncating visitor set",
		map[string]interface{}{"kept": r.maxRecords, "total": len(visitors)})

	truncated := mostRecent(visitors, r.maxRecords)
	if retryErr := r.replaceVisitorsTx(truncated); retryErr != nil {
		return apperrors.Wrap(apperrors.ErrStorageQuota, "failed to persist truncated visitor set", retryErr)
	}
	return nil
}

func (r *Repository) replaceVisitorsTx(visitors []models.Visitor) error {
	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM visitors"); err != nil {
		return err
	}

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`
	INSERT INTO visitors (id, name, phone, is_first_time, visit_date, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range visitors {
		if _, err := stmt.Exec(v.ID, v.Name, v.Phone, v.IsFirstTime, v.Date, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertVisitor inserts or replaces a single visitor row.
func (r *Repository) UpsertVisitor(v models.Visitor) error {
	query := `
	INSERT INTO visitors (id, name, phone, is_first_time, visit_date, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		phone = excluded.phone,
		is_first_time = excluded.is_first_time,
		visit_date = excluded.visit_date,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, v.ID, v.Name, v.Phone, v.IsFirstTime, v.Date, time.Now().Unix())
	if err == nil {
		return nil
	}
	if !isQuotaErr(err) {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to upsert visitor", err)
	}

	// Quota fallback: trim the oldest rows and retry once.
	logging.Warn("Local storage full, trimming visitor rows",
		map[string]interface{}{"kept": r.maxRecords})
	if trimErr := r.TrimVisitors(r.maxRecords); trimErr != nil {
		return apperrors.Wrap(apperrors.ErrStorageQuota, "failed to trim visitors", trimErr)
	}
	if _, err := r.db.Exec(query, v.ID, v.Name, v.Phone, v.IsFirstTime, v.Date, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageQuota, "failed to upsert visitor after trim", err)
	}
	return nil
}

// DeleteVisitor removes a visitor row. Deleting an absent id is a no-op.
func (r *Repository) DeleteVisitor(id int64) error {
	if _, err := r.db.Exec("DELETE FROM visitors WHERE id = ?", id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete visitor", err)
	}
	return nil
}

// TrimVisitors keeps only the limit most recently written visitor rows.
func (r *Repository) TrimVisitors(limit int) error {
	query := `
	DELETE FROM visitors WHERE id NOT IN (
		SELECT id FROM visitors ORDER BY updated_at DESC, id DESC LIMIT ?
	)`
	if _, err := r.db.Exec(query, limit); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to trim visitors", err)
	}
	return nil
}

// =====================================================
// Pending operation queue
// =====================================================

// PendingOps returns the persisted pending queue in FIFO enqueue order.
func (r *Repository) PendingOps() ([]models.PendingOp, error) {
	query := `
	SELECT id, kind, visitor_id, payload, retry_count, next_retry_at, enqueued_at, updated_at
	FROM pending_ops ORDER BY enqueued_at, visitor_id
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query pending ops", err)
	}
	defer rows.Close()

	var ops []models.PendingOp
	for rows.Next() {
		var op models.PendingOp
		var payload sql.NullString
		if err := rows.Scan(&op.ID, &op.Kind, &op.VisitorID, &payload,
			&op.RetryCount, &op.NextRetryAt, &op.EnqueuedAt, &op.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan pending op", err)
		}
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ReplacePendingOps atomically replaces the persisted queue. The whole
// queue is written read-modify-write style so concurrent sync triggers
// cannot lose updates.
func (r *Repository) ReplacePendingOps(ops []models.PendingOp) error {
	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM pending_ops"); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
	INSERT INTO pending_ops (id, kind, visitor_id, payload, retry_count, next_retry_at, enqueued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, op := range ops {
		var payload interface{}
		if len(op.Payload) > 0 {
			payload = string(op.Payload)
		}
		if _, err := stmt.Exec(op.ID, op.Kind, op.VisitorID, payload,
			op.RetryCount, op.NextRetryAt, op.EnqueuedAt, op.UpdatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist pending queue", err)
	}
	return nil
}

// =====================================================
// Sync metadata
// =====================================================

// LastSync returns the last successful full sync time, zero if never.
func (r *Repository) LastSync() (time.Time, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM sync_meta WHERE key = ?", lastSyncKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read last sync", err)
	}

	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

// SetLastSync records the last successful full sync time.
func (r *Repository) SetLastSync(t time.Time) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := r.db.Exec(query, lastSyncKey, strconv.FormatInt(t.Unix(), 10)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write last sync", err)
	}
	return nil
}

// mostRecent returns the n visitors with the highest ids. Ids are creation
// timestamps, so highest means newest.
func mostRecent(visitors []models.Visitor, n int) []models.Visitor {
	if len(visitors) <= n {
		return visitors
	}
	sorted := make([]models.Visitor, len(visitors))
	copy(sorted, visitors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	return sorted[:n]
}

// isQuotaErr reports whether err is SQLite's disk-full condition.
func isQuotaErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "database or disk is full")
}
