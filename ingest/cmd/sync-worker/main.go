package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"shrc-fleet-telemetry/ingest/internal/repos"
	"shrc-fleet-telemetry/ingest/internal/telemetry"
	"shrc-fleet-telemetry/shared/cachex"
	"shrc-fleet-telemetry/shared/config"
	"shrc-fleet-telemetry/shared/dbx"
	"shrc-fleet-telemetry/shared/events"
	"shrc-fleet-telemetry/shared/influxx"
	"shrc-fleet-telemetry/shared/lockx"
	"shrc-fleet-telemetry/shared/logx"
	"shrc-fleet-telemetry/shared/metricsx"
	"shrc-fleet-telemetry/shared/mqx"
	"shrc-fleet-telemetry/shared/observability"
)

const (
	taskFleetSync = "telemetry.fleet_sync"
	syncLockKey   = "telemetry:fleet_sync"
)

func main() {
	cfg, problems := config.Load("sync-worker", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(context.Background(), cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	historyRepo := repos.NewHistoryRepo(dbPool, cfg.DBSchema)
	robotsRepo := repos.NewRobotsRepo(dbPool, cfg.DBSchema)
	loader := telemetry.NewLoader(dbPool, cfg.DBSchema)

	apiClient, err := telemetry.NewClient(cfg)
	if err != nil {
		logger.Error(context.Background(), "upstream_init_failed", "upstream client init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	robotMap := telemetry.DefaultRobotMap()
	if loaded, err := robotsRepo.LoadIdentityMap(context.Background()); err != nil {
		logger.Warn(context.Background(), "robot_map_fallback", "using seeded robot map",
			slog.String("error", err.Error()),
		)
	} else {
		robotMap = loaded
	}

	syncer := telemetry.NewSyncer(apiClient, loader, historyRepo, robotsRepo, telemetry.DefaultTableMap(), robotMap, logger)

	var cacheClient *cachex.Client
	if cfg.RedisAddr != "" {
		cacheClient, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed",
				slog.String("error", err.Error()),
			)
		}
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	var producer *mqx.Producer
	if cfg.EventsEnabled && len(cfg.KafkaBrokers) > 0 {
		producer, err = mqx.NewProducer(cfg)
		if err != nil {
			logger.Warn(context.Background(), "kafka_init_failed", "kafka producer init failed",
				slog.String("error", err.Error()),
			)
		}
	}
	if producer != nil {
		defer producer.Close()
	}

	var influxClient *influxx.Client
	if cfg.InfluxURL != "" && cfg.InfluxToken != "" {
		influxClient, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed",
				slog.String("error", err.Error()),
			)
		}
	}
	if influxClient != nil {
		defer influxClient.Close()
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskFleetSync, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "telemetry.fleet_sync")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()

		if cfg.SyncLockEnabled && cacheClient != nil {
			lock, acquired, err := lockx.Acquire(ctx, cacheClient.Client(), syncLockKey, time.Duration(cfg.SyncLockTTLSec)*time.Second)
			if err != nil {
				return err
			}
			if !acquired {
				logger.Info(ctx, "sync_skipped", "another fleet sync holds the lock")
				return nil
			}
			defer func() { _ = lockx.Release(ctx, cacheClient.Client(), lock) }()
		}

		return runFleetSync(ctx, cfg, syncer, robotsRepo, producer, influxClient, logger)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.SyncIntervalHours)+"h", asynq.NewTask(taskFleetSync, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "sync worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("interval_hours", cfg.SyncIntervalHours),
			slog.Int("lookback_hours", cfg.SyncLookbackHours),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "sync worker stopped")
}

type fleetSyncer interface {
	SyncRecent(ctx context.Context, robotUUID string, fromTs string, toTs string) (int, error)
}

type robotLister interface {
	ListRobotUUIDs(ctx context.Context) ([]string, error)
}

// runFleetSync walks every registered robot over the lookback window.
// One robot failing must not starve the rest of the fleet, so failures
// are logged and counted instead of aborting the run. The watermark
// ledger belongs to the fleet-wide update entry point alone; a sweep
// that skipped a down robot must not advance it past that robot's
// missed range.
func runFleetSync(
	ctx context.Context,
	cfg config.Config,
	syncer fleetSyncer,
	roster robotLister,
	producer *mqx.Producer,
	influxClient *influxx.Client,
	logger logx.Logger,
) error {
	robots, err := roster.ListRobotUUIDs(ctx)
	if err != nil || len(robots) == 0 {
		if err != nil {
			logger.Warn(ctx, "robot_list_fallback", "using seeded robot roster",
				slog.String("error", err.Error()),
			)
		}
		robots = telemetry.DefaultRobotRoster()
	}

	toTime := time.Now().UTC()
	fromTime := toTime.Add(-time.Duration(cfg.SyncLookbackHours) * time.Hour)
	fromTs := fromTime.Format(telemetry.TsLayout)
	toTs := toTime.Format(telemetry.TsLayout)

	totalRows := 0
	failed := 0
	for _, robotUUID := range robots {
		started := time.Now()
		rows, err := syncer.SyncRecent(ctx, robotUUID, fromTs, toTs)
		if err != nil {
			failed++
			metricsx.IncSyncFailure(robotUUID)
			logger.Error(ctx, "robot_sync_failed", "robot sync failed",
				slog.String("error_code", "UPSTREAM_ERROR"),
				slog.String("robot_id", robotUUID),
				slog.String("error", err.Error()),
			)
			continue
		}
		totalRows += rows
		if influxClient != nil {
			_ = influxClient.WritePoint(ctx, "telemetry_sync", map[string]string{
				"robot_id": robotUUID,
			}, map[string]any{
				"rows":        rows,
				"duration_ms": time.Since(started).Milliseconds(),
			}, time.Now().UTC())
		}
	}

	if producer != nil {
		ev := events.SyncCompleted{
			EventID:      uuid.New(),
			OccurredAt:   time.Now().UTC(),
			FromTs:       fromTs,
			ToTs:         toTs,
			RobotCount:   len(robots),
			RowsUpserted: totalRows,
			Source:       "scheduler",
		}
		payload, merr := json.Marshal(ev)
		if merr == nil {
			if perr := producer.Publish(ctx, events.TopicTelemetrySync, []byte(ev.EventID.String()), payload, map[string]string{
				"source": "scheduler",
			}); perr != nil {
				logger.Warn(ctx, "event_publish_failed", "failed to publish sync event",
					slog.String("error", perr.Error()),
				)
			}
		}
	}

	logger.Info(ctx, "fleet_sync_done", "fleet sync finished",
		slog.Int("robots", len(robots)),
		slog.Int("failed", failed),
		slog.Int("rows", totalRows),
		slog.String("from_ts", fromTs),
		slog.String("to_ts", toTs),
	)
	return nil
}
