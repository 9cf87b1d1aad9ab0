package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	auditService "github.com/sallyport/gateway/internal/audit/service"
	"github.com/sallyport/gateway/internal/config"
)

// recorder implements Recorder with a bounded in-memory buffer and a
// background flusher.
//
// The request path only pays for a channel send. The flusher signs and batch
// inserts on its own schedule; insert failures keep the batch in memory and
// retry with backoff, so transient storage outages delay the trail instead of
// losing it.
type recorder struct {
	config *config.Config
	repo   AuditRepository
	signer auditService.Signer
	logger *slog.Logger

	buffer chan *auditDomain.Record

	// pending holds records drained from the buffer that have not been
	// persisted yet. Owned by the flush loop; the mutex covers the direct
	// synchronous path taken when the buffer is full.
	mu      sync.Mutex
	pending []*auditDomain.Record
}

// Record enqueues an audit record for asynchronous persistence.
func (r *recorder) Record(ctx context.Context, record *auditDomain.Record) {
	r.prepare(record)

	select {
	case r.buffer <- record:
	default:
		// Buffer full. Take the slow path rather than dropping the record:
		// an audit trail with holes is worse than a slow request.
		if err := r.persist(ctx, []*auditDomain.Record{record}); err != nil {
			r.mu.Lock()
			r.pending = append(r.pending, record)
			r.mu.Unlock()
			if r.logger != nil {
				r.logger.Error("audit buffer full and direct write failed, record parked",
					slog.String("stage", string(record.Stage)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// prepare fills in identity and timestamp for a new record.
func (r *recorder) prepare(record *auditDomain.Record) {
	if record.ID == uuid.Nil {
		record.ID = uuid.Must(uuid.NewV7())
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}

// Start runs the background flush loop until the context is cancelled.
func (r *recorder) Start(ctx context.Context) error {
	if r.logger != nil {
		r.logger.Info("starting audit recorder",
			slog.Duration("flush_interval", r.config.AuditFlushInterval),
			slog.Int("buffer_size", r.config.AuditBufferSize),
		)
	}

	ticker := time.NewTicker(r.config.AuditFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context so shutdown still persists
			// whatever is buffered.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.Flush(flushCtx); err != nil && r.logger != nil {
				r.logger.Error("final audit flush failed", slog.String("error", err.Error()))
			}
			if r.logger != nil {
				r.logger.Info("stopping audit recorder")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil && r.logger != nil {
				r.logger.Error("audit flush failed, records retained",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Flush drains the buffer and persists everything pending.
func (r *recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for {
		select {
		case record := <-r.buffer:
			batch = append(batch, record)
			continue
		default:
		}
		break
	}

	if len(batch) == 0 {
		return nil
	}

	if err := r.persist(ctx, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	return nil
}

// persist signs unsigned records and batch inserts with bounded retries.
func (r *recorder) persist(ctx context.Context, batch []*auditDomain.Record) error {
	for _, record := range batch {
		if record.HasSignature() {
			continue
		}
		signature, err := r.signer.Sign(record)
		if err != nil {
			return err
		}
		record.Signature = signature
	}

	var err error
	backoff := r.config.AuditRetryBackoff
	for attempt := 0; attempt <= r.config.AuditMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = r.repo.CreateBatch(ctx, batch); err == nil {
			return nil
		}
	}
	return err
}

// NewRecorder creates a Recorder with the provided dependencies.
func NewRecorder(
	config *config.Config,
	repo AuditRepository,
	signer auditService.Signer,
	logger *slog.Logger,
) Recorder {
	return &recorder{
		config: config,
		repo:   repo,
		signer: signer,
		logger: logger,
		buffer: make(chan *auditDomain.Record, config.AuditBufferSize),
	}
}
