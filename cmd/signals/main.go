package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kol-signals/pkg/api"
	"github.com/kol-signals/pkg/config"
	"github.com/kol-signals/pkg/db"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "signals",
	Short:         "Save and review KOL sentiment signals on tweets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, reportCmd, projectsCmd, saveCmd)
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newClient() *api.Client {
	return api.New(cfg.APIBaseURL, cfg.ClientID, cfg.HTTPTimeout)
}

func openStore() (*db.Store, error) {
	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	return store, nil
}
