package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wondertwin-ai/safmiles/internal/admin"
	"github.com/wondertwin-ai/safmiles/internal/api"
	"github.com/wondertwin-ai/safmiles/internal/config"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/session"
	"github.com/wondertwin-ai/safmiles/internal/webhook"
)

var serveFlags server.Config

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session API",
	Long: `Run the session HTTP API. Each session keeps a loyalty history, submits
flights to the scoring service and tracks the one-shot SAF Coin claim.

Claims are queued as signed webhooks when webhook.url is configured.`,
	RunE: runServe,
}

func init() {
	serveFlags.BindFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	srvCfg := serveFlags
	srvCfg.Name = "safmiles"
	if !cmd.Flags().Changed("port") {
		srvCfg.Port = cfg.Server.Port
	}
	srvCfg.Verbose = srvCfg.Verbose || cfg.Server.Verbose
	logger := server.NewLogger(srvCfg.Verbose)

	client := predict.New(predict.Config{
		BaseURL: cfg.Scoring.URL,
		Timeout: cfg.Scoring.Timeout,
		Logger:  logger,
	})

	notifier, dispatcher := claimNotifier(cfg.Webhook, logger)
	sessions := session.NewManager(session.Config{
		Predictor: client,
		Notifier:  notifier,
		Logger:    logger,
	})

	if srvCfg.SeedFile != "" {
		data, err := os.ReadFile(srvCfg.SeedFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		if err := sessions.LoadState(data); err != nil {
			return fmt.Errorf("loading seed data: %w", err)
		}
		logger.Info("loaded seed data", "file", srvCfg.SeedFile, "sessions", sessions.Count())
	}

	var flusher admin.WebhookFlusher
	if dispatcher != nil {
		flusher = dispatcher
	}
	srv := api.NewServer(&srvCfg, sessions, flusher, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Health(ctx); err != nil {
		logger.Warn("scoring service not reachable yet", "url", cfg.Scoring.URL, "error", err)
	}

	logger.Info("safmiles ready",
		"port", srvCfg.Port,
		"scoring_url", cfg.Scoring.URL,
		"webhook_url", cfg.Webhook.URL,
		"idle_ttl", cfg.Session.IdleTTL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	if cfg.Session.IdleTTL > 0 && cfg.Session.SweepInterval > 0 {
		g.Go(func() error {
			return sessions.RunSweeper(gctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
		})
	}
	err = g.Wait()

	sessions.Reset()
	if dispatcher != nil {
		dispatcher.Wait()
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := dispatcher.Flush(flushCtx); ferr != nil {
			logger.Warn("undelivered webhooks at shutdown", "queued", len(dispatcher.QueuedEvents()), "error", ferr)
		}
	}
	return err
}

// claimNotifier returns the notifiers claims fan out to. Claims are always
// logged; the webhook dispatcher is only created, and returned, when a
// webhook URL is configured.
func claimNotifier(cfg config.WebhookConfig, logger *slog.Logger) (loyalty.Notifiers, *webhook.Dispatcher) {
	notifiers := loyalty.Notifiers{loyalty.LogNotifier{Logger: logger}}
	if cfg.URL == "" {
		return notifiers, nil
	}
	dispatcher := webhook.NewDispatcher(webhook.Config{
		URL:         cfg.URL,
		Secret:      cfg.Secret,
		Signer:      webhook.JWTSigner{},
		Logger:      logger,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		EventPrefix: "evt",
		AutoDeliver: cfg.AutoDeliver,
	})
	return append(notifiers, webhook.Notifier{Dispatcher: dispatcher}), dispatcher
}
