package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	auditService "github.com/sallyport/gateway/internal/audit/service"
	"github.com/sallyport/gateway/internal/config"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// fakeAuditRepository collects batches and can be told to fail.
type fakeAuditRepository struct {
	mu       sync.Mutex
	stored   []*auditDomain.Record
	failures int
	calls    int
}

func (f *fakeAuditRepository) CreateBatch(ctx context.Context, records []*auditDomain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return apperrors.New("storage unavailable")
	}
	f.stored = append(f.stored, records...)
	return nil
}

func (f *fakeAuditRepository) List(ctx context.Context, offset, limit int, from, to *time.Time) ([]*auditDomain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.stored) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.stored) {
		end = len(f.stored)
	}
	return append([]*auditDomain.Record(nil), f.stored[offset:end]...), nil
}

func (f *fakeAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*auditDomain.Record
	var deleted int64
	for _, record := range f.stored {
		if record.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	f.stored = kept
	return deleted, nil
}

func (f *fakeAuditRepository) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func testConfig() *config.Config {
	return &config.Config{
		AuditBufferSize:    16,
		AuditFlushInterval: 20 * time.Millisecond,
		AuditMaxRetries:    2,
		AuditRetryBackoff:  time.Millisecond,
	}
}

func testSigner() auditService.Signer {
	return auditService.NewSigner([]byte("test-audit-secret"))
}

func denyRecord() *auditDomain.Record {
	return &auditDomain.Record{
		Stage:      auditDomain.StageEdge,
		Decision:   auditDomain.DecisionDeny,
		ReasonCode: "edge_trust_missing",
		Path:       "/api/orders",
	}
}

func TestRecorder_FlushPersistsSignedRecords(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{}
	recorder := NewRecorder(testConfig(), repo, testSigner(), nil)

	for i := 0; i < 5; i++ {
		recorder.Record(ctx, denyRecord())
	}
	require.NoError(t, recorder.Flush(ctx))

	assert.Equal(t, 5, repo.storedCount())
	for _, record := range repo.stored {
		assert.True(t, record.HasSignature())
		assert.NotEqual(t, time.Time{}, record.CreatedAt)
		assert.NoError(t, testSigner().Verify(record))
	}
}

func TestRecorder_RecordNeverDropsWhenBufferFull(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{}
	cfg := testConfig()
	cfg.AuditBufferSize = 2
	recorder := NewRecorder(cfg, repo, testSigner(), nil)

	// Overfill the buffer; overflow takes the synchronous path.
	for i := 0; i < 10; i++ {
		recorder.Record(ctx, denyRecord())
	}
	require.NoError(t, recorder.Flush(ctx))

	assert.Equal(t, 10, repo.storedCount())
}

func TestRecorder_FlushRetainsBatchOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{}
	cfg := testConfig()
	cfg.AuditMaxRetries = 0
	recorder := NewRecorder(cfg, repo, testSigner(), nil)

	recorder.Record(ctx, denyRecord())

	repo.mu.Lock()
	repo.failures = 1
	repo.mu.Unlock()

	assert.Error(t, recorder.Flush(ctx))
	assert.Equal(t, 0, repo.storedCount())

	// Next flush succeeds and nothing was lost.
	require.NoError(t, recorder.Flush(ctx))
	assert.Equal(t, 1, repo.storedCount())
}

func TestRecorder_PersistRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{failures: 2}
	recorder := NewRecorder(testConfig(), repo, testSigner(), nil)

	recorder.Record(ctx, denyRecord())
	require.NoError(t, recorder.Flush(ctx))

	assert.Equal(t, 1, repo.storedCount())
	assert.Equal(t, 3, repo.calls)
}

func TestRecorder_StartFlushesAndStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &fakeAuditRepository{}
	recorder := NewRecorder(testConfig(), repo, testSigner(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- recorder.Start(ctx)
	}()

	recorder.Record(ctx, denyRecord())
	recorder.Record(ctx, denyRecord())

	assert.Eventually(t, func() bool {
		return repo.storedCount() == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop after context cancellation")
	}
}

func TestAuditUseCase_Verify(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{}
	signer := testSigner()
	recorder := NewRecorder(testConfig(), repo, signer, nil)
	useCase := NewAuditUseCase(repo, signer)

	for i := 0; i < 4; i++ {
		recorder.Record(ctx, denyRecord())
	}
	require.NoError(t, recorder.Flush(ctx))

	// Tamper with one stored record and strip the signature from another.
	repo.mu.Lock()
	repo.stored[1].Decision = auditDomain.DecisionAllow
	repo.stored[2].Signature = nil
	repo.mu.Unlock()

	result, err := useCase.Verify(ctx, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, 1, result.Unsigned)
}

func TestAuditUseCase_CleanOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepository{}
	signer := testSigner()
	recorder := NewRecorder(testConfig(), repo, signer, nil)
	useCase := NewAuditUseCase(repo, signer)

	old := denyRecord()
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	recorder.Record(ctx, old)
	recorder.Record(ctx, denyRecord())
	require.NoError(t, recorder.Flush(ctx))

	deleted, err := useCase.CleanOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, repo.storedCount())
}
