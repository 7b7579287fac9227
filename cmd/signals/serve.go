package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kol-signals/pkg/auth"
	"github.com/kol-signals/pkg/bridge"
	"github.com/kol-signals/pkg/db"
	"github.com/kol-signals/pkg/directory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket bridge the page shim connects to",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bridge port (overrides BRIDGE_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if servePort > 0 {
		cfg.BridgePort = servePort
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sweeper, err := auth.NewSweeper(store, cfg.TokenSweepSchedule)
	if err != nil {
		return err
	}
	go sweeper.Run(ctx)

	srv := bridge.New(cfg, bridge.Deps{
		Backend: newClient(),
		Recent:  directory.NewRecent(store, cfg.RecentProjectsLimit),
		Broker:  auth.NewBroker(store),
		Journal: store,
		Stats:   store,
	})

	printSummary(ctx, store)
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("goodbye 👋")
	return nil
}

func printSummary(ctx context.Context, store *db.Store) {
	stats, _ := store.GetStats(ctx)
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println("  ☆ KOL SIGNALS BRIDGE - RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  Backend:   %s\n", cfg.APIBaseURL)
	fmt.Printf("  Bridge:    ws://localhost:%d/ws\n", cfg.BridgePort)
	fmt.Printf("  Metrics:   http://localhost:%d/metrics\n", cfg.BridgePort)
	fmt.Printf("  Origins:   %v\n", cfg.AllowedOrigins)
	if stats != nil {
		fmt.Printf("  DB: %d recent projects, %d journaled signals, %d tokens\n",
			stats["recent_projects"], stats["saved_signals"], stats["auth_tokens"])
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
