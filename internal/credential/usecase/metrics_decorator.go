package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
	"github.com/sallyport/gateway/internal/metrics"
)

// credentialWithMetrics decorates CredentialUseCase with metrics instrumentation.
type credentialWithMetrics struct {
	next    CredentialUseCase
	metrics metrics.BusinessMetrics
}

// NewCredentialWithMetrics wraps a CredentialUseCase with metrics recording.
func NewCredentialWithMetrics(useCase CredentialUseCase, m metrics.BusinessMetrics) CredentialUseCase {
	return &credentialWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// Issue records metrics for first-version issuance.
func (c *credentialWithMetrics) Issue(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.RotateOutput, error) {
	start := time.Now()
	output, err := c.next.Issue(ctx, principalID, kind)

	status := "success"
	if err != nil {
		status = "error"
	}

	c.metrics.RecordOperation(ctx, "credential", "issue", status)
	c.metrics.RecordDuration(ctx, "credential", "issue", time.Since(start), status)

	return output, err
}

// Rotate records metrics for credential rotation.
func (c *credentialWithMetrics) Rotate(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.RotateOutput, error) {
	start := time.Now()
	output, err := c.next.Rotate(ctx, principalID, kind)

	status := "success"
	if err != nil {
		status = "error"
	}

	c.metrics.RecordOperation(ctx, "credential", "rotate", status)
	c.metrics.RecordDuration(ctx, "credential", "rotate", time.Since(start), status)

	return output, err
}

// Verify records metrics for credential verification.
func (c *credentialWithMetrics) Verify(
	ctx context.Context,
	principalID uuid.UUID,
	plainSecret string,
) (*credentialDomain.Credential, error) {
	start := time.Now()
	credential, err := c.next.Verify(ctx, principalID, plainSecret)

	status := "success"
	if err != nil {
		status = "error"
	}

	c.metrics.RecordOperation(ctx, "credential", "verify", status)
	c.metrics.RecordDuration(ctx, "credential", "verify", time.Since(start), status)

	return credential, err
}

// Sweep records metrics for the rotation sweep.
func (c *credentialWithMetrics) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result, err := c.next.Sweep(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	c.metrics.RecordOperation(ctx, "credential", "sweep", status)
	c.metrics.RecordDuration(ctx, "credential", "sweep", time.Since(start), status)

	return result, err
}

// Start delegates to the wrapped use case.
func (c *credentialWithMetrics) Start(ctx context.Context) error {
	return c.next.Start(ctx)
}
