package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	tokenUseCase "github.com/sallyport/gateway/internal/token/usecase"
)

// RunCleanExpiredTokens deletes refresh tokens that expired more than the
// specified number of days ago. Recently expired tokens are kept so reuse of
// a rotated token can still be detected and revoke its family.
func RunCleanExpiredTokens(
	ctx context.Context,
	refreshTokens tokenUseCase.RefreshTokenRepository,
	logger *slog.Logger,
	writer io.Writer,
	days int,
	format string,
) error {
	if days < 0 {
		return fmt.Errorf("days must be a positive number, got: %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	logger.Info("cleaning expired refresh tokens",
		slog.Int("days", days),
		slog.Time("cutoff", cutoff),
	)

	count, err := refreshTokens.DeleteExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	if format == "json" {
		jsonBytes, err := json.MarshalIndent(map[string]interface{}{
			"count": count,
			"days":  days,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, _ = fmt.Fprintln(writer, string(jsonBytes))
	} else {
		_, _ = fmt.Fprintf(writer, "Deleted %d refresh token(s) that expired more than %d day(s) ago\n", count, days)
	}

	logger.Info("cleanup completed",
		slog.Int64("count", count),
		slog.Int("days", days),
	)

	return nil
}
