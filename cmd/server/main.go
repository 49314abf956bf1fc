package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
	"github.com/activeview/mab/internal/cache"
	"github.com/activeview/mab/internal/dedup"
	"github.com/activeview/mab/internal/metrics"
	"github.com/activeview/mab/internal/ratelimit"
	"github.com/activeview/mab/internal/store"
	"github.com/activeview/mab/internal/wal"
	"github.com/activeview/mab/pkg/otel"
)

type Server struct {
	experiments store.ExperimentStore
	metricStore store.MetricStore
	allocations store.AllocationHistoryStore
	engine      *bandit.Engine
	dedupStore  dedup.Store
	ingestWAL   *wal.IngestWAL
	expCache    *cache.LRUWithTTL[string, *api.Experiment]
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	perClient   *ratelimit.SlidingWindow
	quota       *ratelimit.DailyQuota
	dedupTTL    time.Duration
	log         zerolog.Logger
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "mab-allocator").Logger()

	ctx := context.Background()

	// Engine configuration
	cfg := bandit.DefaultConfig()
	cfg.DefaultWindowDays = getEnvInt("DEFAULT_WINDOW_DAYS", cfg.DefaultWindowDays)
	cfg.MaxWindowDays = getEnvInt("MAX_WINDOW_DAYS", cfg.MaxWindowDays)
	cfg.MinImpressions = uint64(getEnvInt("MIN_IMPRESSIONS", int(cfg.MinImpressions)))
	cfg.Samples = getEnvInt("MC_SAMPLES", cfg.Samples)

	engine, err := bandit.NewEngine(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid engine configuration")
	}

	// Stores
	var (
		experiments store.ExperimentStore
		metricStore store.MetricStore
		allocations store.AllocationHistoryStore
	)
	switch backend := getEnv("STORE_BACKEND", "memory"); backend {
	case "memory":
		mem := store.NewMemory()
		experiments, metricStore, allocations = mem, mem, mem
	case "postgres":
		pg, err := store.NewPostgres(ctx, getEnv("POSTGRES_CONN", ""))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pg.Close()
		experiments, metricStore, allocations = pg, pg, pg
	default:
		logger.Fatal().Str("backend", backend).Msg("unknown STORE_BACKEND")
	}

	// Dedup store for idempotent metrics ingestion
	var dedupStore dedup.Store
	switch backend := getEnv("DEDUP_BACKEND", "memory"); backend {
	case "memory":
		dedupStore = dedup.NewMemoryStore(getEnv("DEDUP_SNAPSHOT", "data/dedup.json"))
	case "redis":
		dedupStore, err = dedup.NewRedisStore(
			getEnv("REDIS_ADDR", "localhost:6379"),
			getEnv("REDIS_PASSWORD", ""),
			getEnvInt("REDIS_DB", 0),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis dedup store")
		}
	case "postgres":
		dedupStore, err = dedup.NewPostgresStore(getEnv("POSTGRES_CONN", ""))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create postgres dedup store")
		}
	default:
		logger.Fatal().Str("backend", backend).Msg("unknown DEDUP_BACKEND")
	}

	// Ingest WAL
	ingestWAL, err := wal.NewIngestWAL(getEnv("WAL_DIR", "data/wal"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ingest WAL")
	}

	// Experiment read cache
	expCache, err := cache.NewLRUWithTTL[string, *api.Experiment](
		getEnvInt("EXPERIMENT_CACHE_SIZE", 1000),
		time.Duration(getEnvInt("EXPERIMENT_CACHE_TTL_SEC", 60))*time.Second,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create experiment cache")
	}

	// Tracing
	if getEnv("OTEL_ENABLED", "") == "true" {
		otelCfg := otel.DefaultConfig("mab-allocator")
		otelCfg.CollectorEndpoint = getEnv("OTEL_COLLECTOR", otelCfg.CollectorEndpoint)
		tp, err := otel.InitTracer(ctx, otelCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init tracer")
		}
		defer otel.Shutdown(context.Background(), tp)
	}

	// Rate limiting: global token bucket plus per-client sliding windows
	tokenRate := getEnvInt("TOKEN_RATE", 100)

	srv := &Server{
		experiments: experiments,
		metricStore: metricStore,
		allocations: allocations,
		engine:      engine,
		dedupStore:  dedupStore,
		ingestWAL:   ingestWAL,
		expCache:    expCache,
		metrics:     metrics.New(),
		limiter:     rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2),
		perClient:   ratelimit.NewSlidingWindow(),
		quota:       ratelimit.NewDailyQuota(getEnvInt("DAILY_ALLOCATION_QUOTA", 3000)),
		dedupTTL:    time.Duration(getEnvInt("DEDUP_TTL_HOURS", 48)) * time.Hour,
		log:         logger,
	}
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	httpServer := &http.Server{
		Addr:         ":" + getEnv("PORT", "8080"),
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdown
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := ingestWAL.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing WAL")
	}
	if err := dedupStore.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing dedup store")
	}

	logger.Info().Msg("server stopped")
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /experiments", s.limited("create_experiment", ratelimit.CreateExperimentLimit, s.handleCreateExperiment))
	mux.HandleFunc("GET /experiments/{id}", s.limited("get_experiment", ratelimit.GetExperimentLimit, s.handleGetExperiment))
	mux.HandleFunc("PATCH /experiments/{id}/status", s.limited("update_status", ratelimit.DefaultLimit, s.handleUpdateStatus))
	mux.HandleFunc("POST /experiments/{id}/metrics", s.limited("ingest_metrics", ratelimit.IngestMetricsLimit, s.handleIngestMetrics))
	mux.HandleFunc("GET /experiments/{id}/allocation", s.limited("allocation", ratelimit.AllocationLimit, s.handleAllocation))
	mux.HandleFunc("GET /experiments/{id}/history", s.limited("history", ratelimit.HistoryLimit, s.handleHistory))
	mux.HandleFunc("GET /experiments/{id}/allocations", s.limited("allocations", ratelimit.HistoryLimit, s.handleListAllocations))
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /health", handleHealth)
	return s.requestLogger(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
