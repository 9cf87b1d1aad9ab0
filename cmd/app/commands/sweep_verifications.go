package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	verificationUseCase "github.com/sallyport/gateway/internal/verification/usecase"
)

// RunSweepVerifications persists the expired transition for pending
// verification requests past their deadline.
func RunSweepVerifications(
	ctx context.Context,
	verifications verificationUseCase.VerificationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	logger.Info("sweeping verification requests")

	count, err := verifications.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep verification requests: %w", err)
	}

	if format == "json" {
		jsonBytes, err := json.MarshalIndent(map[string]interface{}{
			"expired": count,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, _ = fmt.Fprintln(writer, string(jsonBytes))
	} else {
		_, _ = fmt.Fprintf(writer, "Expired %d pending verification request(s)\n", count)
	}

	logger.Info("verification sweep completed", slog.Int64("expired", count))

	return nil
}
