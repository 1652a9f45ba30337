package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/breatheroute/sensorbridge/internal/api"
	"github.com/breatheroute/sensorbridge/internal/api/middleware"
	"github.com/breatheroute/sensorbridge/internal/config"
	"github.com/breatheroute/sensorbridge/internal/database"
	"github.com/breatheroute/sensorbridge/internal/notify"
	"github.com/breatheroute/sensorbridge/internal/output"
	"github.com/breatheroute/sensorbridge/internal/store"
	"github.com/breatheroute/sensorbridge/internal/syncerr"
	"github.com/breatheroute/sensorbridge/internal/telemetry"
	"github.com/breatheroute/sensorbridge/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// run loads configuration, connects to the store and runs the sync loop
// until ctx is cancelled. With opts.once it runs a single cycle instead.
// Cancelling ctx at any point is a clean stop. Every returned error has
// already been logged.
func run(ctx context.Context, opts options, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		bl := bootstrapLogger(stderr)
		bl.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log := newLogger(cfg.Log, os.Stdout)
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting sensorbridge")

	err = runWithConfig(ctx, cfg, opts, log)
	if err != nil && ctx.Err() != nil {
		// Failures after a shutdown request are part of the shutdown.
		log.Info().Err(err).Msg("sensorbridge interrupted")
		return nil
	}
	if err != nil {
		event := log.Error().Err(err)
		if kind, ok := syncerr.KindOf(err); ok {
			event = event.Str("error_kind", string(kind))
		}
		event.Msg("sensorbridge stopped with error")
	}
	return err
}

func runWithConfig(ctx context.Context, cfg *config.Config, opts options, log zerolog.Logger) error {
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		CollectionPath: cfg.Store.CollectionPath,
		OutputPath:     cfg.Output.Path,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, "init telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	instruments, err := telemetry.NewSyncInstruments(tp.Meter)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, "create sync instruments", err)
	}

	client, err := store.Connect(ctx, store.Config{
		Address:         cfg.Store.Address,
		CollectionPath:  cfg.Store.CollectionPath,
		CredentialPath:  cfg.Credential.Path,
		Timeout:         cfg.Store.Timeout,
		BreakerInterval: 5 * cfg.Sync.PollInterval,
		Logger:          log.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return err
	}

	writer, err := output.NewWriter(output.WriterConfig{
		Path:   cfg.Output.Path,
		Sheet:  cfg.Output.Sheet,
		Logger: log.With().Str("component", "output").Logger(),
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, "create output writer", err)
	}

	jobCfg := worker.SyncJobConfig{
		Config: worker.SyncConfig{
			CollectionPath: cfg.Store.CollectionPath,
			PollInterval:   cfg.Sync.PollInterval,
			WriteEmpty:     cfg.Output.WriteEmpty,
			Retry: worker.RetryPolicy{
				Enabled:         cfg.Retry.Enabled,
				InitialInterval: cfg.Retry.InitialInterval,
				MaxInterval:     cfg.Retry.MaxInterval,
				Multiplier:      cfg.Retry.Multiplier,
			},
		},
		Store:       client,
		Output:      writer,
		Instruments: instruments,
		Tracer:      tp.Tracer,
		Logger:      log.With().Str("component", "sync").Logger(),
	}

	if cfg.Mirror.Enabled {
		pool, err := database.Connect(ctx, database.DefaultConfig(cfg.Mirror.DSN))
		if err != nil {
			return syncerr.Wrap(syncerr.KindConnection, "connect mirror database", err)
		}
		defer pool.Close()

		mirror, err := database.NewSnapshotMirror(database.MirrorConfig{
			DB:     pool,
			Table:  cfg.Mirror.Table,
			Logger: log.With().Str("component", "mirror").Logger(),
		})
		if err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, "create snapshot mirror", err)
		}
		jobCfg.Mirror = mirror
		log.Info().Str("table", cfg.Mirror.Table).Msg("postgres mirror enabled")
	}

	if cfg.Notify.Enabled {
		publisher, err := notify.NewPublisher(ctx, notify.Config{
			ProjectID: cfg.Notify.ProjectID,
			Topic:     cfg.Notify.Topic,
			Logger:    log.With().Str("component", "notify").Logger(),
		})
		if err != nil {
			return syncerr.Wrap(syncerr.KindConnection, "create pubsub publisher", err)
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("failed to close pubsub publisher")
			}
		}()
		jobCfg.Notifier = publisher
		log.Info().Str("topic", cfg.Notify.Topic).Msg("pubsub notification enabled")
	}

	job, err := worker.NewSyncJob(jobCfg)
	if err != nil {
		return err
	}

	if opts.once {
		result := job.RunCycle(ctx)
		if result.Failed() {
			return result.Err
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		metrics, err := middleware.NewMetrics()
		if err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, "create http metrics", err)
		}
		server := api.NewServer(api.ServerConfig{
			Port: cfg.Server.Port,
			Handler: api.NewRouter(api.RouterConfig{
				Version:     Version,
				BuildTime:   BuildTime,
				Logger:      log.With().Str("component", "http").Logger(),
				ServiceName: serviceName,
				Metrics:     metrics,
				Sync:        job,
				Store:       client,
			}),
			ShutdownTimeout: shutdownTimeout,
			Logger:          log,
		})
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return syncerr.Wrap(syncerr.KindConnection, "status server", err)
			}
			return nil
		})
	}

	if cfg.Notify.Subscription != "" {
		trigger, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Notify.ProjectID,
			SubscriptionName: cfg.Notify.Subscription,
			Job:              job,
			Logger:           log.With().Str("component", "trigger").Logger(),
		})
		if err != nil {
			return syncerr.Wrap(syncerr.KindConnection, "create pubsub trigger", err)
		}
		defer func() {
			if closeErr := trigger.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("failed to close pubsub trigger")
			}
		}()
		g.Go(func() error {
			// A lost subscription only disables triggers; polling continues.
			if err := trigger.Start(gctx); err != nil && gctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub trigger handler stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		return job.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("sensorbridge stopped")
	return nil
}

// newLogger builds the process logger from cfg.
func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

// bootstrapLogger is used before the configuration is known.
func bootstrapLogger(out io.Writer) zerolog.Logger {
	return zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
}
