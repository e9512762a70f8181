package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/gavel/go/internal/auction/config"
	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/metrics"
	"github.com/mcdev12/gavel/go/internal/auction/operator"
	"github.com/mcdev12/gavel/go/internal/auction/session"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	configPath, _ := pflag.CommandLine.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.ApplyFlags(pflag.CommandLine); err != nil {
		log.Fatal().Err(err).Msg("failed to apply flags")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("http_addr", cfg.HTTPAddr).
		Int("countdown_sec", cfg.CountdownSec).
		Str("nats_url", cfg.NATSURL).
		Msg("starting auction coordinator")

	collector := metrics.NewPrometheusMetrics()
	history := events.NewHistory(events.DefaultHistoryLimit)
	observers := events.Multi{events.NewLogObserver(log.Logger), history}

	if cfg.NATSURL != "" {
		natsConfig := events.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Subject = cfg.NATSSubject

		nc, err := events.ConnectNATS(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Error().Err(err).Msg("failed to drain NATS connection")
			}
		}()
		observers = append(observers, events.NewNATSPublisher(nc, natsConfig.Subject))
	}

	coord := gateway.NewCoordinator(
		gateway.Config{
			Connection: gateway.ConnectionConfig{
				SendBuffer:     cfg.SendBuffer,
				WriteTimeout:   cfg.WriteTimeout,
				MaxMessageSize: gateway.DefaultConnectionConfig().MaxMessageSize,
			},
			MaxConnections: cfg.MaxConnections,
			MaxLinesPerSec: cfg.MaxLinesPerSec,
			LineBurst:      cfg.LineBurst,
		},
		gateway.WithObserver(observers),
		gateway.WithMetrics(collector),
		gateway.WithSessionOptions(session.WithCountdown(cfg.CountdownSec)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var server *http.Server
	if cfg.HTTPAddr != "" {
		handler := operator.NewHandler(coord,
			operator.WithEvents(history),
			operator.WithMetricsHandler(collector.Handler()),
			operator.WithWebSocket(gateway.NewWebSocketHandler(coord, gateway.WithOrigins(cfg.AllowedOrigins...))),
			operator.WithAllowedOrigins(cfg.AllowedOrigins...),
		)
		server = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h2c.NewHandler(handler.Routes(), &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- coord.ListenAndServe(ctx, cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("coordinator failed")
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}
	if err := coord.Close(); err != nil {
		log.Error().Err(err).Msg("coordinator shutdown failed")
	}

	log.Info().Msg("auction coordinator shutdown complete")
}
