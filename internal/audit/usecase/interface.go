// Package usecase implements audit trail recording and inspection.
package usecase

import (
	"context"
	"time"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
)

// AuditRepository defines persistence operations for audit records.
// There is no update operation; the trail is append-only.
type AuditRepository interface {
	// CreateBatch inserts a batch of records.
	CreateBatch(ctx context.Context, records []*auditDomain.Record) error

	// List retrieves records ordered by created_at descending with pagination
	// and optional inclusive time filters (nil means no filter).
	List(ctx context.Context, offset, limit int, createdAtFrom, createdAtTo *time.Time) ([]*auditDomain.Record, error)

	// DeleteOlderThan removes records created before the cutoff. Retention
	// cleanup only; never called on the request path.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder accepts audit records from the request path and persists them
// asynchronously, so recording never adds storage latency to a request.
type Recorder interface {
	// Record enqueues a record for persistence. Fills in the ID and timestamp
	// if unset. Never fails from the caller's perspective: when the buffer is
	// full the record is written synchronously instead of being dropped.
	Record(ctx context.Context, record *auditDomain.Record)

	// Start runs the background flush loop until the context is cancelled,
	// then performs a final flush.
	Start(ctx context.Context) error

	// Flush persists everything currently buffered. Used on shutdown and in
	// tests.
	Flush(ctx context.Context) error
}

// VerifyResult summarizes a signature verification pass over stored records.
type VerifyResult struct {
	Checked  int
	Invalid  int
	Unsigned int
}

// AuditUseCase defines operator-facing audit trail operations.
type AuditUseCase interface {
	// List retrieves records with pagination and optional time filters.
	List(ctx context.Context, offset, limit int, createdAtFrom, createdAtTo *time.Time) ([]*auditDomain.Record, error)

	// Verify walks stored records and checks every signature.
	Verify(ctx context.Context, createdAtFrom, createdAtTo *time.Time) (*VerifyResult, error)

	// CleanOlderThan deletes records past the retention cutoff.
	CleanOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
