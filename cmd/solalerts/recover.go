package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solboy/solalerts/internal/journal"
	"github.com/solboy/solalerts/internal/mirror"
)

// newRecoverCmd merges the emergency sidecar into the primary log and,
// when a mirror is configured, pulls records the mirror has that the
// log lost. Useful after a crash when the pipeline host stays down but
// the API host needs the records.
func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Merge emergency sidecar and mirror records into the alert log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jr := journal.New(cfg.Journal, log.Logger)
			if err := jr.Open(); err != nil {
				return err
			}
			defer jr.Close()

			if cfg.Mirror.Enabled {
				store := mirror.NewRedisStore(cfg.Mirror)
				defer store.Close()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				local, err := jr.Load()
				if err != nil {
					return err
				}
				missing, err := mirror.Reconcile(ctx, store, local)
				if err != nil {
					return err
				}
				added, err := jr.Merge(missing)
				if err != nil {
					return err
				}
				log.Info().Int("records", added).Msg("recovered records from mirror")
			}

			records, err := jr.Load()
			if err != nil {
				return err
			}
			log.Info().Int("records", len(records)).Str("path", cfg.Journal.Path).
				Msg("log verified")
			return nil
		},
	}
}
