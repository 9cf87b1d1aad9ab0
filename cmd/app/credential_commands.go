package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/sallyport/gateway/cmd/app/commands"
	"github.com/sallyport/gateway/internal/app"
	"github.com/sallyport/gateway/internal/config"
)

func getCredentialCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "issue-credential",
			Usage: "Issue the first credential version for a principal",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "principal-id",
					Aliases:  []string{"p"},
					Required: true,
					Usage:    "Principal ID (UUID)",
				},
				&cli.StringFlag{
					Name:    "kind",
					Aliases: []string{"k"},
					Value:   "secret",
					Usage:   "Credential kind: 'secret', 'signing_cert', or 'encryption_cert'",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				credentialUseCase, err := container.CredentialUseCase()
				if err != nil {
					return err
				}

				return commands.RunIssueCredential(
					ctx,
					credentialUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("principal-id"),
					cmd.String("kind"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "rotate-credential",
			Usage: "Rotate a principal's credential to a new version",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "principal-id",
					Aliases:  []string{"p"},
					Required: true,
					Usage:    "Principal ID (UUID)",
				},
				&cli.StringFlag{
					Name:    "kind",
					Aliases: []string{"k"},
					Value:   "secret",
					Usage:   "Credential kind: 'secret', 'signing_cert', or 'encryption_cert'",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				credentialUseCase, err := container.CredentialUseCase()
				if err != nil {
					return err
				}

				return commands.RunRotateCredential(
					ctx,
					credentialUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("principal-id"),
					cmd.String("kind"),
					cmd.String("format"),
				)
			},
		},
	}
}
