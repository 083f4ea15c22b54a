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
	"github.com/solboy/solalerts/internal/fanout"
	"github.com/solboy/solalerts/internal/journal"
)

// newAPICmd serves the read-only API without running the pipeline, for
// deployments where the log lives on shared storage.
func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the read-only alert API over an existing log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			jr := journal.New(cfg.Journal, log.Logger)
			registry, err := fanout.LoadRegistry(cfg.Fanout.RegistryPath)
			if err != nil {
				return err
			}
			server := api.NewServer(cfg.API, jr, registry, log.Logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
