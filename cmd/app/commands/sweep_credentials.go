package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	credentialUseCase "github.com/sallyport/gateway/internal/credential/usecase"
)

// RunSweepCredentials runs one rotation sweep pass: deprecated versions past
// their grace window are retired and overdue active versions are rotated.
func RunSweepCredentials(
	ctx context.Context,
	credentials credentialUseCase.CredentialUseCase,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	logger.Info("sweeping credentials")

	result, err := credentials.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep credentials: %w", err)
	}

	if format == "json" {
		jsonBytes, err := json.MarshalIndent(map[string]interface{}{
			"retired": result.Retired,
			"rotated": result.Rotated,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, _ = fmt.Fprintln(writer, string(jsonBytes))
	} else {
		_, _ = fmt.Fprintf(writer, "Retired %d credential version(s), rotated %d overdue credential(s)\n",
			result.Retired, result.Rotated)
	}

	logger.Info("credential sweep completed",
		slog.Int64("retired", result.Retired),
		slog.Int("rotated", result.Rotated),
	)

	return nil
}
