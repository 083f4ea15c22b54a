package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/ingest"
)

const (
	appName = "solalerts"
	version = "v1.4.0"
)

// Exit codes: 0 clean shutdown, 1 runtime fatal, 2 configuration
// error, 3 credential rejection.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
	exitAuth   = 3
)

// errConfig marks failures loading or validating the configuration so
// they exit with the config status code.
var errConfig = errors.New("invalid configuration")

func main() {
	godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Solana token momentum alert pipeline",
		Version: version,
		Long: `solalerts ingests streaming chat feeds, correlates token momentum
signals into tiered alerts and serves them over a read-only HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAPICmd())
	rootCmd.AddCommand(newRecoverCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, ingest.ErrAuth):
		return exitAuth
	case errors.Is(err, errConfig):
		return exitConfig
	default:
		return exitFatal
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}
