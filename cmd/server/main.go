package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tasklock/engine/internal/domain"
	"github.com/tasklock/engine/internal/engine"
	"github.com/tasklock/engine/internal/infrastructure/config"
	infrapostgres "github.com/tasklock/engine/internal/infrastructure/postgres"
	"github.com/tasklock/engine/pkg/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
)

const (
	serviceName    = "task-mutation-engine"
	serviceVersion = "1.0.0"
)

func main() {
	// Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("Starting task mutation engine",
		zap.String("version", serviceVersion),
		zap.String("environment", cfg.Environment),
	)

	// Initialize OpenTelemetry
	if cfg.EnableTracing {
		shutdown, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer shutdown(context.Background())
	}

	// Initialize database
	db, err := initDatabase(cfg.GetDatabaseConfig())
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	store := infrapostgres.NewStore(db)
	authz := auth.NewAuthorizer()
	mutator := engine.NewMutator(store, store, logger)
	bulk := engine.NewOrchestrator(store, mutator, authz, &logInvalidator{logger: logger}, domain.BulkLimits{
		ChunkSize:          cfg.BulkChunkSize,
		MaxOperations:      cfg.BulkMaxOperations,
		MaxTasksPerRequest: cfg.BulkMaxTasksPerRequest,
		MemoryLimitMB:      cfg.BulkMemoryLimitMB,
	}, logger)

	mux := http.NewServeMux()
	if cfg.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/tasks/bulk", bulkHandler(bulk, logger))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.MetricsPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout exceeded, forcing stop", zap.Error(err))
		server.Close()
	} else {
		logger.Info("Server stopped gracefully")
	}
}

// bulkRequestBody is the consumed wire shape of a bulk call. Authentication
// and request sanitization live upstream; this handler is only the thin shim
// between the transport and the engine.
type bulkRequestBody struct {
	Action       string          `json:"action"`
	TaskIDs      []int64         `json:"task_ids"`
	Status       string          `json:"status,omitempty"`
	Versions     []*int64        `json:"versions,omitempty"`
	VersionsByID map[int64]int64 `json:"versions_by_id,omitempty"`
}

type bulkResponseBody struct {
	Message               string   `json:"message"`
	Processed             int      `json:"processed"`
	Total                 int      `json:"total"`
	Conflicts             int      `json:"conflicts"`
	Errors                []string `json:"errors"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
	ChunksProcessed       int      `json:"chunks_processed"`
}

func bulkHandler(bulk *engine.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body bulkRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		action, err := domain.ParseBulkAction(body.Action, body.Status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		req := &domain.BulkRequest{
			Action:  action,
			TaskIDs: body.TaskIDs,
		}
		if len(body.Versions) > 0 {
			req.Versions = domain.VersionsByIndex(body.Versions)
		} else if len(body.VersionsByID) > 0 {
			req.Versions = domain.VersionsByID(body.VersionsByID)
		}

		result, err := bulk.Run(r.Context(), actorFromHeaders(r), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		// Partial and even total per-task failure still yield a 200-level
		// result; callers inspect the counts.
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(bulkResponseBody{
			Message:               result.Message,
			Processed:             result.Processed,
			Total:                 result.Total,
			Conflicts:             result.Conflicts,
			Errors:                result.Errors,
			ProcessingTimeSeconds: result.ProcessingSeconds(),
			ChunksProcessed:       result.ChunksProcessed,
		}); err != nil {
			logger.Error("failed to encode bulk response", zap.Error(err))
		}
	}
}

// actorFromHeaders trusts identity headers set by the upstream gateway.
// Session issuance and validation are not this service's concern.
func actorFromHeaders(r *http.Request) *domain.Actor {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		return nil
	}
	actor := &domain.Actor{UserID: userID}
	if roles := r.Header.Get("X-User-Roles"); roles != "" {
		actor.Roles = strings.Split(roles, ",")
	}
	return actor
}

// logInvalidator stands in for the external cache layer that maintains
// per-assignee aggregates; the engine only has to emit the signal.
type logInvalidator struct {
	logger *zap.Logger
}

func (l *logInvalidator) InvalidateAssigneeAggregates(ctx context.Context, assigneeIDs []int64) error {
	l.logger.Info("invalidating assignee aggregates", zap.Int64s("assignee_ids", assigneeIDs))
	return nil
}

func initLogger(environment string) *zap.Logger {
	var logger *zap.Logger
	var err error

	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}

func initTracer(otlpEndpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(context.Background(), otlptracegrpc.WithEndpoint(otlpEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func initDatabase(dbCfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(dbCfg.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func runMigrations(databaseURL, migrationsPath string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
