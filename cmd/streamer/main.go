package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bethna/marketfeed/internal/catalog"
	"github.com/bethna/marketfeed/internal/config"
	"github.com/bethna/marketfeed/internal/connection"
	"github.com/bethna/marketfeed/internal/model"
	"github.com/bethna/marketfeed/internal/provider"
	"github.com/bethna/marketfeed/internal/reconcile"
	"github.com/bethna/marketfeed/internal/version"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/streamer.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"exchange", cfg.Stream.Exchange,
		"symbols", cfg.Stream.Symbols,
	)

	entry, ok := catalog.Lookup(cfg.Stream.Exchange)
	if !ok {
		logger.Error("unknown exchange", "exchange", cfg.Stream.Exchange, "supported", catalog.Exchanges())
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Build the historical provider chain
	fetcher := provider.NewFetcher(
		buildProviders(cfg, logger),
		provider.WithCacheTTL(cfg.Providers.CacheTTL),
		provider.WithFetcherLogger(logger),
	)

	registry := connection.NewRegistry(logger)
	defer registry.DisconnectAll()

	reconciler := reconcile.New(fetcher, registry, entry, logger, reconcile.Options{
		BufferSize: cfg.Reconcile.BufferSize,
		Debounce:   cfg.Reconcile.Debounce,
		IdleGrace:  cfg.Reconcile.IdleGrace,
		Connection: connection.Config{
			ReconnectDelay:       cfg.Connection.ReconnectBaseDelay,
			MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
			HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
			ConnectTimeout:       cfg.Connection.ConnectTimeout,
			WriteTimeout:         cfg.Connection.WriteTimeout,
			StaleTimeout:         cfg.Connection.StaleTimeout,
		},
	})
	defer reconciler.Close()

	// Start health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(registry, cfg.Stream.Symbols),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Watch every configured symbol
	interval := model.Interval(cfg.Reconcile.Interval)
	for _, symbol := range cfg.Stream.Symbols {
		stop := reconciler.Watch(ctx, symbol, interval, cfg.Reconcile.Limit, func(s reconcile.Series) {
			if len(s.Candles) == 0 {
				return
			}
			last := s.Candles[len(s.Candles)-1]
			logger.Info("series refreshed",
				"symbol", s.Symbol,
				"interval", s.Interval,
				"candles", len(s.Candles),
				"close", last.Close,
				"source", s.Source,
				"synthetic", s.Synthetic,
				"live_ticks", s.LiveTicks,
			)
		})
		defer stop()
	}

	logger.Info("streamer running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("streamer stopped")
}

// buildProviders assembles the historical chain in configured order.
func buildProviders(cfg *config.StreamerConfig, logger *slog.Logger) []provider.Provider {
	providers := make([]provider.Provider, 0, len(cfg.Providers.Order))
	for _, name := range cfg.Providers.Order {
		switch name {
		case "binance":
			providers = append(providers, provider.NewBinance())
		case "coingecko":
			providers = append(providers, provider.NewCoinGecko(
				cfg.Providers.CoinGecko.BaseURL,
				provider.WithRetries(cfg.Providers.CoinGecko.MaxRetries, cfg.Providers.CoinGecko.RetryBackoff),
				provider.WithLogger(logger),
			))
		}
	}
	return providers
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(registry *connection.Registry, symbols []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		connections := registry.StatusSnapshot()

		health := struct {
			Status      string          `json:"status"`
			Symbols     []string        `json:"symbols"`
			Connections map[string]bool `json:"connections"`
		}{
			Status:      "healthy",
			Symbols:     symbols,
			Connections: connections,
		}

		for _, up := range connections {
			if !up {
				health.Status = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
