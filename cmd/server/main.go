package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/application"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/infrastructure/evm"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/infrastructure/farcaster"
	httpHandler "github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/interfaces/http"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/config"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Environment)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Strike Leaderboard Service...")

	identityClient := farcaster.NewClient(
		cfg.Identity.BaseURL,
		cfg.Identity.APIKey,
		cfg.Identity.RequestTimeout,
		cfg.Identity.MaxRetries,
		cfg.Identity.RetryDelay,
		cfg.Identity.RequestsPerSecond,
		log,
	)
	if cfg.Identity.APIKey == "" {
		log.Warn("NEYNAR_API_KEY is not set, identity lookups will likely be rejected")
	}

	resolver := application.NewResolver(application.ResolverConfig{
		BatchSize:        cfg.Identity.BatchSize,
		ResolveInterval:  cfg.Identity.ResolveInterval,
		RequestTimeout:   cfg.Identity.RequestTimeout,
		RetryInterval:    cfg.Identity.RetryInterval,
		IdentityTTL:      cfg.Identity.IdentityTTL,
		RateLimitBackoff: cfg.Identity.RateLimitBackoff,
		EnrichIdentities: cfg.Identity.EnrichIdentities,
	}, identityClient, domain.SystemClock{}, log)

	topic := evm.StrikeTopic(cfg.Chain.StrikeEventSignature)
	log.Infow("Watching Strike events", "signature", cfg.Chain.StrikeEventSignature, "topic", topic.Hex())

	pollers := make([]*application.Poller, 0, len(cfg.Chain.Networks))
	for _, network := range cfg.Chain.Networks {
		pollerCfg := application.NewPollerConfig(cfg.Chain, network, topic)
		dialer := evm.NewDialer(network.Name, network.RPCURL, log)

		pollers = append(pollers, application.NewPoller(
			pollerCfg,
			dialer,
			application.NewLedger(),
			resolver,
			domain.SystemClock{},
			log,
		))

		log.Infow("Configured network",
			"network", network.Name,
			"contract", pollerCfg.Contract.Hex(),
			"chunkSize", pollerCfg.ChunkSize,
			"lookbackBlocks", pollerCfg.LookbackBlocks,
			"strictRateLimits", network.StrictRateLimits,
		)
	}

	service := application.NewService(pollers, resolver, &cfg.Leaderboard, log)

	if err := service.StartPolling(); err != nil {
		log.Fatalw("Failed to start polling", "error", err)
	}
	defer service.StopPolling()

	limiter := httpHandler.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	limiter.Start()
	defer limiter.Stop()

	router := httpHandler.NewRouter(service, cfg.Server, limiter, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.Metrics.Port,
			Handler: metricsMux,
		}
		go func() {
			log.Infow("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server error", "error", err)
			}
		}()
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Errorw("Metrics server forced to shutdown", "error", err)
		}
	}

	log.Info("Server shutdown complete")
}
