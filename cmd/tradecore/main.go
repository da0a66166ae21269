package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/TungTran2095/studio-sub004/internal/config"
	"github.com/TungTran2095/studio-sub004/internal/core"
	"github.com/TungTran2095/studio-sub004/internal/database"
	"github.com/TungTran2095/studio-sub004/internal/journal"
	"github.com/TungTran2095/studio-sub004/internal/metrics"
	"github.com/TungTran2095/studio-sub004/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tradecore.yaml", "path to config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config, if present")
	flag.Parse()

	// Credentials usually come from the environment; the config expands ${VAR}.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("config", *configPath).
		Str("instance_id", cfg.Instance.ID).
		Msg("starting tradecore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Stringer("signal", sig).Msg("received shutdown signal")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []core.Option{core.WithMetrics(metrics.New(reg))}

	if cfg.Journal.Enabled {
		pool, err := database.Connect(ctx, cfg.Journal.Database, 5, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect journal database")
		}
		defer pool.Close()
		if err := journal.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare journal schema")
		}
		opts = append(opts, core.WithJournalDB(pool))
	}

	sys, err := core.New(cfg, &logger, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build system")
	}

	// Start the HTTP server early so startup can be observed.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(sys, reg, cfg.Metrics.Path, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.Metrics.Port).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Health.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.GRPCPort))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to listen for grpc health")
		}
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, hs)
		go watchHealth(ctx, sys, hs, 5*time.Second)
		go func() {
			logger.Info().Int("port", cfg.Health.GRPCPort).Msg("starting grpc health server")
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		}()
	}

	if err := sys.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start system")
	}

	logger.Info().
		Str("instance_id", cfg.Instance.ID).
		Strs("instruments", cfg.Stream.Instruments).
		Str("health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)).
		Msg("tradecore running")

	<-ctx.Done()

	logger.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sys.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("system stop incomplete")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("tradecore stopped")
}

// setupLogger configures the process logger and returns it.
func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return log.Logger.With().Str("service", "tradecore").Logger()
}
