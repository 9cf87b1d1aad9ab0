package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
	credentialUseCase "github.com/sallyport/gateway/internal/credential/usecase"
)

// RunRotateCredential publishes a new active credential version of a kind for
// a principal, deprecating the previous one with a grace window.
func RunRotateCredential(
	ctx context.Context,
	credentials credentialUseCase.CredentialUseCase,
	logger *slog.Logger,
	writer io.Writer,
	principalIDStr string,
	kindStr string,
	format string,
) error {
	principalID, err := uuid.Parse(principalIDStr)
	if err != nil {
		return fmt.Errorf("invalid principal ID: %w", err)
	}

	kind, err := credentialDomain.ParseKind(kindStr)
	if err != nil {
		return err
	}

	logger.Info("rotating credential",
		slog.String("principal_id", principalID.String()),
		slog.String("kind", kindStr),
	)

	output, err := credentials.Rotate(ctx, principalID, kind)
	if err != nil {
		return fmt.Errorf("failed to rotate credential: %w", err)
	}

	if format == "json" {
		if err := outputRotateJSON(writer, principalID, output); err != nil {
			return fmt.Errorf("failed to output JSON: %w", err)
		}
	} else {
		outputRotateText(writer, "Credential rotated", principalID, output)
	}

	logger.Info("credential rotated",
		slog.String("credential_id", output.CredentialID.String()),
		slog.Int("version", output.Version),
	)

	return nil
}
