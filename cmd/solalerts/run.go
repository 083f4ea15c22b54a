package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solboy/solalerts/internal/api"
	"github.com/solboy/solalerts/internal/app"
	"github.com/solboy/solalerts/internal/fanout"
	"github.com/solboy/solalerts/internal/journal"
)

// newRunCmd builds the main pipeline command. It runs the ingest
// pipeline and the HTTP API in one process until SIGINT or SIGTERM.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alert pipeline with the embedded API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := app.New(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}

			jr := journal.New(cfg.Journal, log.Logger)
			registry, err := fanout.LoadRegistry(cfg.Fanout.RegistryPath)
			if err != nil {
				return err
			}
			server := api.NewServer(cfg.API, jr, registry, log.Logger)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("api server failed")
				}
			}()

			runErr := pipeline.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("api shutdown")
			}
			return runErr
		},
	}
	return cmd
}
