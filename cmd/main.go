package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/atlas-arcgis/internal/config"
	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/UnknownOlympus/atlas-arcgis/internal/repository"
	"github.com/UnknownOlympus/atlas-arcgis/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// pinger is a dependency checked by the health endpoint.
type pinger func(ctx context.Context) error

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	// This allows for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment.
	logger := setupLogger(cfg.Env)

	// Create a separate registry for metrics with exemplar
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	// Initialize the database connection.
	dtb, err := repository.NewDatabase(
		ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
	)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dtb.Close()

	checks := map[string]pinger{"database": dtb.Ping}

	// Responses and tokens are shared through Redis when it is configured.
	cache, tokenStore, rdb, err := newStores(ctx, cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Create a new repository instance using the database connection.
	repo := repository.NewRepository(dtb, logger)

	geoProvider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:          geocoding.ProviderType(cfg.ProviderType),
		ClientID:      cfg.Esri.ClientID,
		ClientSecret:  cfg.Esri.ClientSecret,
		Token:         cfg.Esri.Token,
		ForStorage:    cfg.Esri.ForStorage,
		SourceCountry: cfg.Esri.SourceCountry,
		UseHTTPS:      cfg.Esri.UseHTTPS,
		RateLimit:     cfg.RateLimit,
		MaxRetries:    3,
		Cache:         cache,
		TokenStore:    tokenStore,
		Metrics:       appMetrics,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Failed to create geocoding provider: %v", err)
	}

	logger.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.ProviderType, "redis", rdb != nil)

	// Init a new geocode service using the geo provider.
	geoService := service.NewGeocodingService(logger, repo, geoProvider, appMetrics, service.Options{
		Workers:       cfg.Workers,
		Interval:      cfg.Interval,
		BatchSize:     cfg.BatchSize,
		MinScore:      cfg.MinScore,
		AddressPrefix: cfg.AddrPrefix,
	})

	// Log that the application has started.
	logger.InfoContext(ctx, "Application started. Press Ctrl+C to stop.")

	// Start the monitoring server in a goroutine to allow main to listen for signals.
	go startMonitoringServer(ctx, logger, reg, checks, cfg.Port)

	go geoService.Run(ctx)

	// Wait for the context to be canceled (e.g., by Ctrl+C).
	<-ctx.Done()

	// Log that a shutdown signal has been received.
	logger.InfoContext(ctx, "Shutdown signal received. Stopping application...")

	// Log graceful shutdown completion.
	logger.InfoContext(ctx, "Application stopped gracefully.")
}

// newStores returns Redis backed stores when a Redis URL is configured and
// in-memory ones otherwise. The Redis client is nil in the latter case.
func newStores(
	ctx context.Context,
	cfg config.CacheConfig,
) (geocoding.Cache, geocoding.TokenStore, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return geocoding.NewMemoryCache(cfg.TTL), geocoding.NewMemoryTokenStore(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err = rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return geocoding.NewRedisCache(rdb, geocoding.DefaultCachePrefix, cfg.TTL),
		geocoding.NewRedisTokenStore(rdb, geocoding.DefaultCachePrefix),
		rdb, nil
}

// startMonitoringServer starts an HTTP server that provides health check and metrics endpoints.
// It listens on the specified port and logs the server's status and any errors encountered.
//
// Parameters:
// - ctx: A context.Context for managing cancellation and timeouts.
// - log: A logger for logging server events and errors.
// - reg: A registry with Prometheus collectors.
// - checks: Named dependencies pinged by the health endpoint.
// - port: The port number on which the server will listen.
func startMonitoringServer(
	ctx context.Context,
	log *slog.Logger,
	reg *prometheus.Registry,
	checks map[string]pinger,
	port int,
) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(ctx, log, checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.InfoContext(ctx, "Starting monitoring server", "port", port)
	readTimeout := 5
	writeTimeout := 10
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.ErrorContext(ctx, "Monitoring server failed", "error", err)
	}
}

// healthHandler replies 200 when every check passes and 503 naming the first failed check otherwise.
func healthHandler(ctx context.Context, log *slog.Logger, checks map[string]pinger) http.HandlerFunc {
	return func(writer http.ResponseWriter, req *http.Request) {
		log.DebugContext(ctx, "Performing health checks...")
		status, body := http.StatusOK, "OK"
		for name, check := range checks {
			if err := check(req.Context()); err != nil {
				log.WarnContext(ctx, "Health check failed", "check", name, "error", err)
				status, body = http.StatusServiceUnavailable, name+" ping failed"
				break
			}
		}
		writer.WriteHeader(status)
		if _, err := writer.Write([]byte(body)); err != nil {
			log.ErrorContext(ctx, "failed to write reply", "error", err)
		}

		log.DebugContext(ctx, "Health checks completed", "status", status)
	}
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					return a
				},
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelInfo,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					return a
				},
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelWarn,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelError,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}
