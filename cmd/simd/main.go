// Package main provides the strikenet simulation engine daemon
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/strikenet/strikenet/pkg/events"
	"github.com/strikenet/strikenet/pkg/handler"
	"github.com/strikenet/strikenet/pkg/messages"
	"github.com/strikenet/strikenet/pkg/postgres"
	"github.com/strikenet/strikenet/pkg/sim"
	"github.com/strikenet/strikenet/pkg/telemetry"
)

// Config holds the engine daemon configuration
type Config struct {
	// Server settings
	HTTPAddr string
	HTTPPort int

	// External services. All optional: the engine runs standalone.
	NATSUrl      string
	PostgresURL  string
	OTLPEndpoint string

	// CORS settings
	CORSOrigins []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:     "0.0.0.0",
		HTTPPort:     8080,
		NATSUrl:      getEnv("NATS_URL", "nats://localhost:4222"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		CORSOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogJSON:      getEnv("LOG_JSON", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Prometheus metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strikenet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strikenet_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strikenet_websocket_connections_active",
			Help: "Number of active watch WebSocket connections",
		},
	)

	natsConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strikenet_nats_connection_status",
			Help: "NATS connection status (1=connected, 0=disconnected)",
		},
	)

	dbConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strikenet_db_connection_status",
			Help: "Database connection status (1=connected, 0=disconnected)",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(wsConnectionsActive)
	prometheus.MustRegister(natsConnectionStatus)
	prometheus.MustRegister(dbConnectionStatus)
}

func main() {
	cfg := DefaultConfig()

	setupLogging(cfg)

	log.Info().
		Str("nats_url", cfg.NATSUrl).
		Int("http_port", cfg.HTTPPort).
		Msg("Starting strikenet engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	shutdownTracer, err := telemetry.InitTracer(ctx, "strikenet-engine", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to init tracing, continuing without it")
	} else {
		defer shutdownTracer(context.Background())
	}

	nc, archive := connectServices(ctx, cfg)
	defer func() {
		if nc != nil {
			nc.Close()
		}
		if archive != nil {
			archive.Close()
		}
	}()

	publisher := events.NewPublisher(nc, log.Logger)
	// Snapshots reach the hub straight from the engine hooks; wiring NATS
	// here as well would double-deliver every frame.
	watchHub := handler.NewWatchHub(nil, log.Logger)

	simMetrics := sim.NewMetrics(prometheus.DefaultRegisterer)
	mgr := sim.NewManager(log.Logger, simMetrics, sim.Hooks{
		OnSnapshot: func(snap messages.Snapshot) {
			watchHub.BroadcastSnapshot(snap)
			publisher.PublishSnapshot(snap)
		},
		OnTransition: func(runID string, status sim.Status, tick int64) {
			publisher.PublishLifecycle(runID, string(status))
			if archive != nil {
				// Archive writes must not stall the tick loop.
				go func() {
					archiveCtx, archiveCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer archiveCancel()
					if err := archive.CompleteRun(archiveCtx, runID, string(status), tick); err != nil {
						log.Warn().Err(err).Str("simulation_id", runID).Msg("Failed to archive run result")
					}
				}()
			}
		},
	})

	router := setupRouter(ctx, cfg, mgr, archive, nc, watchHub)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchHub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				wsConnectionsActive.Set(float64(watchHub.ClientCount()))
			}
		}
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		mgr.CancelAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("strikenet engine shutdown complete")
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// connectServices dials NATS and PostgreSQL. Both are optional; the engine
// degrades to standalone mode when they are unreachable.
func connectServices(ctx context.Context, cfg Config) (*nats.Conn, *postgres.Pool) {
	nc, err := nats.Connect(cfg.NATSUrl,
		nats.Name("strikenet-engine"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			natsConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			natsConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event publishing")
		nc = nil
	} else {
		log.Info().Str("url", cfg.NATSUrl).Msg("Connected to NATS")
		natsConnectionStatus.Set(1)

		if js, jsErr := jetstream.New(nc); jsErr != nil {
			log.Warn().Err(jsErr).Msg("Failed to init JetStream, events will not be persisted")
		} else if err := events.SetupStreams(ctx, js); err != nil {
			log.Warn().Err(err).Msg("Failed to set up event streams, events will not be persisted")
		}
	}

	var archive *postgres.Pool
	if cfg.PostgresURL != "" {
		archive, err = postgres.NewPoolFromURL(ctx, cfg.PostgresURL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, continuing without run archive")
			archive = nil
		} else {
			log.Info().Msg("Connected to PostgreSQL")
			dbConnectionStatus.Set(1)
		}
	}

	return nc, archive
}

func setupRouter(runCtx context.Context, cfg Config, mgr *sim.Manager, archive *postgres.Pool, nc *nats.Conn, watchHub *handler.WatchHub) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(prometheusMiddleware)
	r.Use(tracingMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(archive, nc))
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoints
	r.Handle("/ws/unit", handler.NewUnitControlHandler(mgr, log.Logger))
	r.Handle("/ws/watch", handler.NewWatchHandler(watchHub, log.Logger))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		simHandler := handler.NewSimulationHandler(runCtx, mgr, archive, log.Logger)
		r.Mount("/simulations", simHandler.Routes())
	})

	return r
}

// correlationIDMiddleware adds a correlation ID to each request
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := handler.WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each HTTP request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		correlationID := handler.GetCorrelationID(r.Context())

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("correlation_id", correlationID).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// tracingMiddleware opens a span per request
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := telemetry.Tracer("strikenet-http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.String("correlation_id", handler.GetCorrelationID(ctx)),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// prometheusMiddleware records HTTP metrics
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	Components    map[string]string `json:"components"`
	CorrelationID string            `json:"correlation_id"`
}

var startTime = time.Now()

func healthHandler(archive *postgres.Pool, nc *nats.Conn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		correlationID := handler.GetCorrelationID(ctx)

		response := HealthResponse{
			Status:        "healthy",
			Version:       "1.0.0",
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			Components:    make(map[string]string),
			CorrelationID: correlationID,
		}

		if archive == nil {
			response.Components["postgres"] = "not configured"
		} else if err := archive.Health(ctx); err != nil {
			response.Components["postgres"] = "unhealthy: " + err.Error()
			response.Status = "degraded"
			dbConnectionStatus.Set(0)
		} else {
			response.Components["postgres"] = "healthy"
			dbConnectionStatus.Set(1)
		}

		if nc == nil || !nc.IsConnected() {
			response.Components["nats"] = "disconnected"
			natsConnectionStatus.Set(0)
		} else {
			response.Components["nats"] = "connected"
			natsConnectionStatus.Set(1)
		}

		status := http.StatusOK
		if response.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}

		handler.WriteJSON(w, status, response)
	}
}
