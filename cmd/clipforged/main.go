package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/clipforge/clipforge/pkg/api"
	"github.com/clipforge/clipforge/pkg/cleanup"
	"github.com/clipforge/clipforge/pkg/hardware"
	"github.com/clipforge/clipforge/pkg/invoke"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/ratelimit"
	"github.com/clipforge/clipforge/pkg/shutdown"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/tracing"
)

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	port := flag.String("port", envOr("CLIPFORGE_PORT", "8080"), "API listen port")
	dbType := flag.String("store", envOr("CLIPFORGE_STORE", "sqlite"), "Store backend: sqlite, postgres, or memory")
	dbPath := flag.String("db", envOr("CLIPFORGE_DB", "clipforge.db"), "SQLite database path")
	dbDSN := flag.String("dsn", os.Getenv("CLIPFORGE_DSN"), "Postgres DSN (store=postgres)")
	outputRoot := flag.String("output", envOr("CLIPFORGE_OUTPUT", "output"), "Directory for finished renders")
	scratchRoot := flag.String("scratch", envOr("CLIPFORGE_SCRATCH", os.TempDir()), "Directory for scratch space")
	ffmpegPath := flag.String("ffmpeg", envOr("CLIPFORGE_FFMPEG", "ffmpeg"), "ffmpeg binary path")
	ffprobePath := flag.String("ffprobe", envOr("CLIPFORGE_FFPROBE", "ffprobe"), "ffprobe binary path")
	concurrency := flag.Int("concurrency", 0, "Max concurrent pipelines (0 = size from hardware)")
	logLevel := flag.String("log-level", envOr("CLIPFORGE_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	metricsPort := flag.String("metrics-port", envOr("CLIPFORGE_METRICS_PORT", "9090"), "Prometheus metrics port")
	rps := flag.Float64("rate-limit", 5, "Submissions per second allowed per client")
	burst := flag.Int("rate-burst", 10, "Submission burst allowed per client")
	tracingEndpoint := flag.String("otlp-endpoint", os.Getenv("CLIPFORGE_OTLP_ENDPOINT"), "OTLP HTTP endpoint (empty disables tracing)")
	retentionDays := flag.Int("retention-days", 7, "Days to keep terminal jobs before pruning")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON)
	logger.Info("starting clipforge daemon", map[string]interface{}{
		"port":  *port,
		"store": *dbType,
	})

	// Tracing
	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "clipforged",
		ServiceVersion: "1.0.0",
		Environment:    envOr("CLIPFORGE_ENV", "development"),
		OTLPEndpoint:   *tracingEndpoint,
		Enabled:        *tracingEndpoint != "",
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Store
	dataStore, err := store.NewStore(store.Config{
		Type: *dbType,
		Path: *dbPath,
		DSN:  *dbDSN,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	// Concurrency sized from the host unless pinned
	caps := hardware.Detect()
	workers := *concurrency
	if workers <= 0 {
		workers = hardware.RecommendedConcurrency(caps)
	}
	logger.Info("sized worker pool", map[string]interface{}{
		"workers":     workers,
		"cpu_threads": caps.CPUThreads,
	})

	// Pipeline
	collector := metrics.NewCollector(dataStore)
	hub := api.NewHub(logger)
	hub.Start()

	runner := &invoke.ExecRunner{Timeout: 30 * time.Minute}
	orch := pipeline.NewOrchestrator(dataStore, runner, pipeline.Config{
		FFmpegPath:  *ffmpegPath,
		FFprobePath: *ffprobePath,
		ScratchRoot: *scratchRoot,
		OutputRoot:  *outputRoot,
		Retry:       models.DefaultRetryPolicy(),
	}, logger, hub).WithMetrics(collector)

	dispatcher := pipeline.NewDispatcher(dataStore, orch, logger, workers).WithMetrics(collector)
	if resumed, err := dispatcher.Resume(); err != nil {
		logger.Warn("failed to resume queued jobs", map[string]interface{}{"error": err.Error()})
	} else if resumed > 0 {
		logger.Info("resumed queued jobs", map[string]interface{}{"count": resumed})
	}

	// Cleanup
	cleanupCfg := cleanup.DefaultConfig()
	cleanupCfg.JobRetentionDays = *retentionDays
	cleanupCfg.ScratchRoot = *scratchRoot
	cleanupMgr := cleanup.NewManager(cleanupCfg, dataStore, logger)
	cleanupMgr.Start()

	// API
	handler := api.NewHandler(dataStore, dispatcher, hub, logger)
	handler.SetRateLimiter(ratelimit.NewLimiter(*rps, *burst))

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tp))
	handler.RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": apiServer.Addr})
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	var metricsServer *http.Server
	if *enableMetrics {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", collector)
		metricsServer = &http.Server{
			Addr:    ":" + *metricsPort,
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics listening", map[string]interface{}{"addr": metricsServer.Addr})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	// Shutdown order: stop intake, drain pipelines, then close resources
	mgr := shutdown.New(60 * time.Second)
	mgr.Register(shutdown.CloseResource(dataStore, "store"))
	mgr.Register(func(ctx context.Context) error { return tp.Shutdown(ctx) })
	mgr.Register(func(ctx context.Context) error { cleanupMgr.Stop(); return nil })
	mgr.Register(func(ctx context.Context) error { return dispatcher.Wait() })
	if metricsServer != nil {
		mgr.Register(shutdown.StopHTTPServer(metricsServer, "metrics"))
	}
	mgr.Register(shutdown.StopHTTPServer(apiServer, "api"))

	if err := mgr.WaitWithContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
