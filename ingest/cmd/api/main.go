package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"shrc-fleet-telemetry/ingest/internal/middleware"
	"shrc-fleet-telemetry/ingest/internal/models"
	"shrc-fleet-telemetry/ingest/internal/repos"
	"shrc-fleet-telemetry/ingest/internal/telemetry"
	"shrc-fleet-telemetry/shared/authx"
	"shrc-fleet-telemetry/shared/cachex"
	"shrc-fleet-telemetry/shared/config"
	"shrc-fleet-telemetry/shared/dbx"
	"shrc-fleet-telemetry/shared/events"
	"shrc-fleet-telemetry/shared/httpx"
	"shrc-fleet-telemetry/shared/lockx"
	"shrc-fleet-telemetry/shared/logx"
	"shrc-fleet-telemetry/shared/metricsx"
	"shrc-fleet-telemetry/shared/mqx"
	"shrc-fleet-telemetry/shared/observability"
)

const (
	lastUpdateCacheKey = "telemetry:last_update"
	syncLockKey        = "telemetry:fleet_sync"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

type syncRequest struct {
	RobotID string `json:"robot_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type syncResponse struct {
	Rows int `json:"rows"`
}

func main() {
	cfg, readyProblems := config.Load("ingest-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
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

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(context.Background(), cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	historyRepo := repos.NewHistoryRepo(dbPool, cfg.DBSchema)
	robotsRepo := repos.NewRobotsRepo(dbPool, cfg.DBSchema)
	loader := telemetry.NewLoader(dbPool, cfg.DBSchema)

	apiClient, err := telemetry.NewClient(cfg)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "UPSTREAM_BASE_URL", Message: "failed to build upstream client"})
	}

	robotMap := telemetry.DefaultRobotMap()
	if dbPool != nil {
		if loaded, err := robotsRepo.LoadIdentityMap(context.Background()); err != nil {
			logger.Warn(context.Background(), "robot_map_fallback", "using seeded robot map",
				slog.String("error", err.Error()),
			)
		} else {
			robotMap = loaded
		}
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

	var verifier *authx.Verifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize token verifier"})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("POST /api/v1/telemetry/sync", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSyncRequest(w, r)
		if !ok {
			return
		}
		rows, err := syncer.SyncRecent(r.Context(), req.RobotID, req.From, req.To)
		if err != nil {
			writeSyncError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, syncResponse{Rows: rows})
	})

	mux.HandleFunc("POST /api/v1/telemetry/backfill", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSyncRequest(w, r)
		if !ok {
			return
		}
		rows, err := syncer.SyncRange(r.Context(), req.RobotID, req.From, req.To)
		if err != nil {
			writeSyncError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, syncResponse{Rows: rows})
	})

	mux.HandleFunc("POST /api/v1/telemetry/update-all", func(w http.ResponseWriter, r *http.Request) {
		if cfg.SyncLockEnabled && cacheClient != nil {
			lock, acquired, err := lockx.Acquire(r.Context(), cacheClient.Client(), syncLockKey, time.Duration(cfg.SyncLockTTLSec)*time.Second)
			if err != nil {
				httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "lock acquisition failed", nil)
				return
			}
			if !acquired {
				httpx.WriteError(w, r, http.StatusConflict, "ALREADY_RUNNING", "a fleet sync is already in progress", nil)
				return
			}
			defer func() { _ = lockx.Release(r.Context(), cacheClient.Client(), lock) }()
		}

		summary, err := syncer.RunFullUpdate(r.Context())
		if err != nil {
			writeSyncError(w, r, err)
			return
		}
		if cacheClient != nil {
			_ = cacheClient.Delete(r.Context(), lastUpdateCacheKey)
		}
		publishSyncEvent(r.Context(), logger, producer, summary, len(robotMap), "api")
		httpx.WriteJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("GET /api/v1/telemetry/last-update", func(w http.ResponseWriter, r *http.Request) {
		if cacheClient != nil {
			var cached models.UpdateHistory
			if ok, err := cacheClient.GetJSON(r.Context(), lastUpdateCacheKey, &cached); err == nil && ok {
				httpx.WriteJSON(w, http.StatusOK, cached)
				return
			}
		}
		record, err := historyRepo.LastUpdate(r.Context())
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read update history", nil)
			return
		}
		if record == nil {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "no update history yet", nil)
			return
		}
		if cacheClient != nil && cfg.LastUpdateTTL > 0 {
			_ = cacheClient.SetJSON(r.Context(), lastUpdateCacheKey, record, time.Duration(cfg.LastUpdateTTL)*time.Second)
		}
		httpx.WriteJSON(w, http.StatusOK, record)
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}
	// Sync runs can outlive the default request timeout by design.
	skipTimeout := func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, "/api/v1/telemetry/") && r.Method == http.MethodPost
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{Pool: dbPool, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuthMiddleware{Verifier: verifier, Skip: skipInfra}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, skipTimeout, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

func decodeSyncRequest(w http.ResponseWriter, r *http.Request) (syncRequest, bool) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
		return syncRequest{}, false
	}
	req.RobotID = strings.TrimSpace(req.RobotID)
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if _, err := uuid.Parse(req.RobotID); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "robot_id must be a UUID", nil)
		return syncRequest{}, false
	}
	for _, ts := range []string{req.From, req.To} {
		if _, err := time.Parse(telemetry.TsLayout, ts); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "from/to must be YYYYMMDDhhmmss", nil)
			return syncRequest{}, false
		}
	}
	return req, true
}

func writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *telemetry.UpstreamError
	var unknownRobot *telemetry.UnknownRobotError
	var loadErr *telemetry.LoadError
	switch {
	case errors.Is(err, telemetry.ErrBlocked):
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_BLOCKED", err.Error(), nil)
	case errors.As(err, &upstreamErr):
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(),
			map[string]any{"status": upstreamErr.Status})
	case errors.As(err, &unknownRobot):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "UNKNOWN_ROBOT", err.Error(), nil)
	case errors.As(err, &loadErr):
		httpx.WriteError(w, r, http.StatusInternalServerError, "LOAD_ERROR", err.Error(),
			map[string]any{"table": loadErr.Table, "rows": loadErr.Rows})
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	}
}

func publishSyncEvent(ctx context.Context, logger logx.Logger, producer *mqx.Producer, summary models.UpdateSummary, robotCount int, source string) {
	if producer == nil {
		return
	}
	ev := events.SyncCompleted{
		EventID:      uuid.New(),
		OccurredAt:   time.Now().UTC(),
		FromTs:       summary.FromTs,
		ToTs:         summary.ToTs,
		RobotCount:   robotCount,
		RowsUpserted: summary.RowsUpserted,
		Source:       source,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := producer.Publish(ctx, events.TopicTelemetrySync, []byte(ev.EventID.String()), payload, map[string]string{
		"source": source,
	}); err != nil {
		logger.Warn(ctx, "event_publish_failed", "failed to publish sync event",
			slog.String("error", err.Error()),
		)
	}
}
