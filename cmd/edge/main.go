// cmd/edge/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/oshimpathan/sharesathi/cache"
	"github.com/oshimpathan/sharesathi/internal/config"
	"github.com/oshimpathan/sharesathi/internal/http/routes"
	"github.com/oshimpathan/sharesathi/internal/jobs"
	"github.com/oshimpathan/sharesathi/internal/telemetry"
	"github.com/oshimpathan/sharesathi/offline"
)

var version = "dev"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sharesathi-edge").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	lvl, _ := cfg.Level()
	logger = logger.Level(lvl)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("edge stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "sharesathi-edge", version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	storage, err := cache.DefaultRegistry().Open(ctx, cfg.Cache.Driver, cfg.Cache.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache storage")
		}
	}()

	origin, err := cfg.Origin()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	network := http.DefaultTransport.(*http.Transport).Clone()
	network.ResponseHeaderTimeout = cfg.UpstreamTimeout

	host, err := offline.NewHost(offline.HostOptions{
		Origin:  origin,
		Rules:   offline.Rules{APIPrefix: cfg.Cache.APIPrefix, DataBackendMarker: cfg.Cache.DataBackend},
		Storage: storage,
		Network: network,
		Logger:  &logger,
		Metrics: offline.NewMetrics(reg),
	})
	if err != nil {
		return err
	}

	var deploys routes.DeployEnqueuer
	if cfg.HasQueue() {
		client := jobs.NewClient(cfg.Queue.RedisAddr, cfg.Queue.Name, cfg.Queue.MaxRetry)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("close asynq client")
			}
		}()
		deploys = client

		worker := jobs.NewServer(jobs.ServerOptions{
			RedisAddr:   cfg.Queue.RedisAddr,
			Queue:       cfg.Queue.Name,
			Concurrency: cfg.Queue.Concurrency,
			Logger:      logger,
		})
		handler := &jobs.DeployHandler{Deployer: host, DefaultAssets: cfg.Cache.Assets, Logger: logger}
		if err := worker.Start(jobs.NewMux(handler)); err != nil {
			return err
		}
		defer worker.Shutdown()
	}

	if _, err := host.Deploy(ctx, cfg.Cache.Version, cfg.Cache.Assets); err != nil {
		logger.Error().Err(err).Msg("initial deploy failed, serving without offline cache")
		if deploys != nil {
			p := jobs.DeployVersionPayload{Version: cfg.Cache.Version, Assets: cfg.Cache.Assets}
			if id, err := deploys.EnqueueDeploy(ctx, p); err != nil {
				logger.Warn().Err(err).Msg("could not queue deploy retry")
			} else {
				logger.Info().Str("task_id", id).Msg("deploy retry queued")
			}
		}
	}

	s := routes.New(routes.ServerOptions{
		Host:          host,
		Origin:        origin,
		AdminToken:    cfg.AdminToken,
		Deploys:       deploys,
		DefaultAssets: cfg.Cache.Assets,
		Gatherer:      reg,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("origin", origin.String()).Msg("edge listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	host.Wait()
	return nil
}
