package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/bestpath/chatops/internal/api"
	"github.com/bestpath/chatops/internal/config"
	"github.com/bestpath/chatops/internal/core"
	"github.com/bestpath/chatops/internal/deliver"
	"github.com/bestpath/chatops/internal/execute"
	"github.com/bestpath/chatops/internal/forward"
	"github.com/bestpath/chatops/internal/logging"
	"github.com/bestpath/chatops/internal/route"
	"github.com/bestpath/chatops/internal/safety"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	resolver := route.NewResolver(cfg.ChannelTenants, cfg.TenantBackends, cfg.ChannelWebhooks)
	client := forward.NewClient(logger, cfg.HTTPTimeout, cfg.RetryCount, cfg.RetryBackoff, cfg.VerifyTLS)
	deliverer := deliver.NewDeliverer(logger, resolver, client, cfg.FollowupThreshold, client.Budget())
	executor := execute.NewExecutor(logger, cfg.ExecTestMode)
	dispatcher := core.NewDispatcher(logger, cfg, resolver, safety.NewGate(), client, deliverer, executor)

	srv := api.NewServer(logger, dispatcher, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPListenAddr).
			Int("channels", len(cfg.ChannelTenants)).
			Bool("exec_test_mode", cfg.ExecTestMode).
			Msg("starting gateway")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}
