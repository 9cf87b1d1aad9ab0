package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	auditUseCase "github.com/sallyport/gateway/internal/audit/usecase"
)

// RunCleanAuditRecords deletes audit records older than the specified number
// of days. Retention cleanup only; the trail is otherwise append-only.
func RunCleanAuditRecords(
	ctx context.Context,
	audit auditUseCase.AuditUseCase,
	logger *slog.Logger,
	writer io.Writer,
	days int,
	format string,
) error {
	// Validate days parameter
	if days < 0 {
		return fmt.Errorf("days must be a positive number, got: %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	logger.Info("cleaning audit records",
		slog.Int("days", days),
		slog.Time("cutoff", cutoff),
	)

	count, err := audit.CleanOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete audit records: %w", err)
	}

	// Output result based on format
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
		_, _ = fmt.Fprintf(writer, "Successfully deleted %d audit record(s) older than %d day(s)\n", count, days)
	}

	logger.Info("cleanup completed",
		slog.Int64("count", count),
		slog.Int("days", days),
	)

	return nil
}
