package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/safmiles/internal/scoring"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/store"
)

const defaultScoringPort = 8000

var scoringFlags server.Config

var scoringCmd = &cobra.Command{
	Use:   "scoring",
	Short: "Run the scoring service",
	Long: `Run the scoring service: GET /, GET /health and POST /predict, plus the
/admin control plane for fault injection and state inspection.`,
	RunE: runScoring,
}

func init() {
	scoringFlags.BindFlags(scoringCmd.Flags())
}

func runScoring(cmd *cobra.Command, _ []string) error {
	cfg := scoringFlags
	cfg.Name = "scoring"
	cfg.LoadEnv()
	if cfg.Port == 0 {
		cfg.Port = defaultScoringPort
	}
	logger := server.NewLogger(cfg.Verbose)

	svc := scoring.NewService(nil, store.NewClock(), logger)
	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		if err := svc.LoadState(data); err != nil {
			return fmt.Errorf("loading seed data: %w", err)
		}
		logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("scoring ready", "port", cfg.Port)
	return scoring.NewServer(&cfg, svc).Serve(ctx)
}
