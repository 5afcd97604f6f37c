package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"facetag/internal/cache"
	"facetag/internal/config"
	"facetag/internal/database"
	"facetag/internal/log"
	"facetag/internal/queue"
	"facetag/internal/repository"
	"facetag/internal/security"
	"facetag/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "facetagctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facetagctl",
		Short: "facetag operator CLI",
		Long: `facetagctl runs maintenance tasks against the facetag stores: creating the
relational schema, signing webhook payloads for manual testing, and re-enqueueing
fan-out for detection records that are still waiting for a post.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newSignCmd(),
		newReconcileCmd(),
	)
	return cmd
}

func loadConfig() (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log.New(cfg.Environment, cfg.LogLevel), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the posts, tags, notifications and fanouts tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := database.NewPostgresPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info().Msg("schema is up to date")
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign <payload.json|->",
		Short: "Print the X-Signature value for a webhook payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				secret = cfg.Webhook.Secret
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set FACETAG_WEBHOOK_SECRET")
			}

			body, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), security.SignPayload(secret, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Webhook secret (defaults to webhook.secret from config)")
	return cmd
}

// readPayload returns the exact bytes to sign; "-" reads stdin.
func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}

func newReconcileCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Enqueue fan-out for every pending detection record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("window") {
				cfg.Jobs.ReconcileWindow = window
			}

			client, err := cache.NewRedisClient(cmd.Context(), cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			detections, err := repository.NewDetectionRepository(client, cfg.Detection)
			if err != nil {
				return err
			}
			producer := queue.NewProducer(client, cfg.Queue.Stream)
			fanout := service.NewFanoutService(nil, detections, producer, cfg.Jobs.ReconcileWindow, logger)

			n, err := fanout.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d fanout task(s) on %s\n", n, cfg.Queue.Stream)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Override jobs.reconcilewindow; 0 disables the age limit")
	return cmd
}
