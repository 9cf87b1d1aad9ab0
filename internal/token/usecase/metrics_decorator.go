package usecase

import (
	"context"
	"time"

	"github.com/sallyport/gateway/internal/metrics"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// authenticatorWithMetrics decorates Authenticator with metrics instrumentation.
type authenticatorWithMetrics struct {
	next    Authenticator
	metrics metrics.BusinessMetrics
}

// NewAuthenticatorWithMetrics wraps an Authenticator with metrics recording.
func NewAuthenticatorWithMetrics(useCase Authenticator, m metrics.BusinessMetrics) Authenticator {
	return &authenticatorWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// Authenticate records metrics per credential kind.
func (a *authenticatorWithMetrics) Authenticate(
	ctx context.Context,
	input *tokenDomain.AuthenticateInput,
) (*AuthResult, error) {
	start := time.Now()
	result, err := a.next.Authenticate(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}

	operation := "authenticate_" + string(input.Kind)
	a.metrics.RecordOperation(ctx, "token", operation, status)
	a.metrics.RecordDuration(ctx, "token", operation, time.Since(start), status)

	return result, err
}

// IssueRefresh records metrics for refresh token issuance.
func (a *authenticatorWithMetrics) IssueRefresh(
	ctx context.Context,
	input *tokenDomain.IssueRefreshInput,
) (*tokenDomain.IssueRefreshOutput, error) {
	start := time.Now()
	output, err := a.next.IssueRefresh(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}

	a.metrics.RecordOperation(ctx, "token", "refresh_issue", status)
	a.metrics.RecordDuration(ctx, "token", "refresh_issue", time.Since(start), status)

	return output, err
}

// ExchangeRefresh records metrics for refresh token rotation.
func (a *authenticatorWithMetrics) ExchangeRefresh(
	ctx context.Context,
	plainToken string,
) (*ExchangeRefreshOutput, error) {
	start := time.Now()
	output, err := a.next.ExchangeRefresh(ctx, plainToken)

	status := "success"
	if err != nil {
		status = "error"
	}

	a.metrics.RecordOperation(ctx, "token", "refresh_exchange", status)
	a.metrics.RecordDuration(ctx, "token", "refresh_exchange", time.Since(start), status)

	return output, err
}

// RevokeRefresh records metrics for refresh token revocation.
func (a *authenticatorWithMetrics) RevokeRefresh(ctx context.Context, plainToken string) error {
	start := time.Now()
	err := a.next.RevokeRefresh(ctx, plainToken)

	status := "success"
	if err != nil {
		status = "error"
	}

	a.metrics.RecordOperation(ctx, "token", "refresh_revoke", status)
	a.metrics.RecordDuration(ctx, "token", "refresh_revoke", time.Since(start), status)

	return err
}
