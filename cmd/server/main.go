// Command server is the entrypoint for the render orchestrator: an
// admission-controlled render queue fronting a headless browser, serving
// PDFs of wiki articles over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wikirender/render-orchestrator/internal/api"
	"github.com/wikirender/render-orchestrator/internal/config"
	"github.com/wikirender/render-orchestrator/internal/eventrelay"
	"github.com/wikirender/render-orchestrator/internal/prober"
	"github.com/wikirender/render-orchestrator/internal/queue"
	"github.com/wikirender/render-orchestrator/internal/renderer"
	"github.com/wikirender/render-orchestrator/internal/telemetry"
	"github.com/wikirender/render-orchestrator/internal/templatestore"
	"github.com/wikirender/render-orchestrator/internal/urltemplate"
)

func main() {
	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("connecting to template store", zap.String("endpoint", cfg.MinIOEndpoint))
	templateStore, err := templatestore.New(ctx, templatestore.Config{
		Endpoint:        cfg.MinIOEndpoint,
		AccessKeyID:     cfg.MinIOAccessKey,
		SecretAccessKey: cfg.MinIOSecretKey,
		BucketName:      cfg.MinIOBucket,
		UseSSL:          cfg.MinIOUseSSL,
	}, log, templatestore.Template{})
	if err != nil {
		log.Fatal("failed to initialize template store", zap.Error(err))
	}
	log.Info("connected to template store")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Warn("redis connection failed, event relay publishes will fail until it is reachable", zap.Error(err))
	} else {
		log.Info("connected to redis")
	}

	registry := prometheus.NewRegistry()
	telemetryAdapter := telemetry.New(log, registry)
	eventPublisher := eventrelay.NewPublisher(redisClient, log)
	observer := queue.FanOut{telemetryAdapter, eventPublisher}

	renderQueue := queue.New[renderer.PdfResult](queue.Config{
		Concurrency:        cfg.Concurrency,
		QueueTimeoutMs:     cfg.QueueTimeoutMs,
		ExecutionTimeoutMs: cfg.ExecutionTimeoutMs,
		MaxTaskCount:       cfg.MaxTaskCount,
	}, observer)

	probeClient := prober.New(cfg.ProbeTimeout())

	renderCfgFactory := func(denyList *regexp.Regexp) renderer.Config {
		return renderer.Config{
			LaunchFlags:   cfg.LaunchFlags,
			UserAgent:     cfg.UserAgent,
			DenyListRegex: denyList,
			CloseTimeout:  cfg.CloseTimeout(),
		}
	}

	handler := api.NewHandler(
		renderQueue,
		probeClient,
		templateStore,
		urltemplate.Config{UserAgent: cfg.UserAgent, AcceptLanguage: cfg.AcceptLanguage},
		renderCfgFactory,
		cfg.QueueTimeoutMs,
		log,
	)

	eventHandler := eventrelay.NewHandler(redisClient, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zapRequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.ExecutionTimeout() + cfg.QueueTimeout() + 5*time.Second))

	handler.RegisterRoutes(r)
	eventHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExecutionTimeout() + cfg.QueueTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_FORMAT") == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// zapRequestLogger replaces the teacher's middleware.Logger (which writes
// through the standard logger) with one that emits structured zap
// records, matching this repo's ambient logging choice everywhere else.
func zapRequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
