package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
	credentialUseCase "github.com/sallyport/gateway/internal/credential/usecase"
)

// RunIssueCredential creates the first credential version of a kind for a
// principal and prints the plain secret. The secret is only shown once; it is
// stored hashed.
func RunIssueCredential(
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

	logger.Info("issuing credential",
		slog.String("principal_id", principalID.String()),
		slog.String("kind", kindStr),
	)

	output, err := credentials.Issue(ctx, principalID, kind)
	if err != nil {
		return fmt.Errorf("failed to issue credential: %w", err)
	}

	if format == "json" {
		if err := outputRotateJSON(writer, principalID, output); err != nil {
			return fmt.Errorf("failed to output JSON: %w", err)
		}
	} else {
		outputRotateText(writer, "Credential issued", principalID, output)
	}

	logger.Info("credential issued",
		slog.String("credential_id", output.CredentialID.String()),
		slog.Int("version", output.Version),
	)

	return nil
}

// outputRotateText outputs a rotation result in human-readable text format.
func outputRotateText(writer io.Writer, title string, principalID uuid.UUID, output *credentialDomain.RotateOutput) {
	_, _ = fmt.Fprintf(writer, "%s\n", title)
	_, _ = fmt.Fprintf(writer, "Principal ID:  %s\n", principalID)
	_, _ = fmt.Fprintf(writer, "Credential ID: %s\n", output.CredentialID)
	_, _ = fmt.Fprintf(writer, "Version:       %d\n", output.Version)
	_, _ = fmt.Fprintf(writer, "Secret:        %s\n", output.PlainSecret)
	if !output.GraceUntil.IsZero() {
		_, _ = fmt.Fprintf(writer, "Grace Until:   %s\n", output.GraceUntil.Format("2006-01-02 15:04:05"))
	}
	_, _ = fmt.Fprintf(writer, "\nStore the secret now. It cannot be retrieved again.\n")
}

// outputRotateJSON outputs a rotation result in JSON format for machine consumption.
func outputRotateJSON(writer io.Writer, principalID uuid.UUID, output *credentialDomain.RotateOutput) error {
	result := map[string]interface{}{
		"principal_id":  principalID,
		"credential_id": output.CredentialID,
		"version":       output.Version,
		"secret":        output.PlainSecret,
	}
	if !output.GraceUntil.IsZero() {
		result["grace_until"] = output.GraceUntil
	}

	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	_, _ = fmt.Fprintln(writer, string(jsonBytes))
	return nil
}
