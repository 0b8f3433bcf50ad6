// Command batond runs the Baton execution daemon: the orchestrator workers
// for one execution domain plus a small HTTP API for creating and inspecting
// executions.
//
// The daemon polls only the domain's orchestrator queue. Runner workers are
// deployed separately (in any language) and poll the runner queue; the two
// pools address each other exclusively through queue names.
//
// # Configuration
//
// Environment variables:
//
//	TEMPORAL_HOST_PORT          - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_NAMESPACE          - Temporal namespace (default: "default")
//	BATON_DOMAIN                - Execution domain (default: "agent-execution")
//	BATON_ORCHESTRATOR_QUEUE    - Orchestrator queue override
//	BATON_RUNNER_QUEUE          - Runner queue override
//	BATON_ADDR                  - HTTP listen address (default: ":8080")
//	BATON_SCHEMA_FILE           - JSON Schema for payload validation (optional)
//	BATON_CREATE_RPS            - Create rate limit, 0 = unlimited
//	BATON_RUN_TIMEOUT           - Per-execution workflow timeout, 0 = none
//	BATON_DEV_ECHO_RUNNER       - Register an in-process echo runner (dev only)
//	MONGO_URL                   - MongoDB URL; empty uses the in-memory store
//	MONGO_DATABASE              - MongoDB database (default: "baton")
//	REDIS_URL                   - Redis address for status streams and claim checks
//	REDIS_PASSWORD              - Redis password (optional)
//	CLAIMCHECK_THRESHOLD_BYTES  - Payload offload threshold
//	CLAIMCHECK_DIR              - Filesystem claim check root (no Redis)
//	BATON_DEBUG                 - Enable debug logging
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/batonhq/baton/claimcheck"
	"github.com/batonhq/baton/config"
	"github.com/batonhq/baton/engine"
	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/execution/inmem"
	batonmongo "github.com/batonhq/baton/execution/mongo"
	clientsmongo "github.com/batonhq/baton/execution/mongo/clients/mongo"
	"github.com/batonhq/baton/orchestrator"
	"github.com/batonhq/baton/orchestrator/activities"
	"github.com/batonhq/baton/service"
	"github.com/batonhq/baton/stream"
	streampulse "github.com/batonhq/baton/stream/clients/pulse"
	"github.com/batonhq/baton/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCtx := log.Context(context.Background(), log.WithFormat(log.FormatJSON))
	if cfg.Debug {
		logCtx = log.Context(logCtx, log.WithDebug())
	}
	ctx, stop := signal.NotifyContext(logCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	queues := cfg.Queues()
	logger.Info(ctx, "starting batond",
		"domain", queues.Domain,
		"orchestrator_queue", queues.Orchestrator,
		"runner_queue", queues.Runner,
		"temporal", cfg.TemporalHostPort)

	var pingers []health.Pinger

	// Record store: Mongo when configured, in-memory otherwise.
	var store execution.Store
	if cfg.MongoURL != "" {
		mongoClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn(ctx, "mongo disconnect", "err", err)
			}
		}()
		mc, err := clientsmongo.New(clientsmongo.Options{
			Client:   mongoClient,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			return fmt.Errorf("create mongo client: %w", err)
		}
		store, err = batonmongo.NewStore(mc)
		if err != nil {
			return fmt.Errorf("create mongo store: %w", err)
		}
		pingers = append(pingers, mc)
		logger.Info(ctx, "using mongo record store", "database", cfg.MongoDatabase)
	} else {
		store = inmem.New()
		logger.Warn(ctx, "using in-memory record store, executions will not survive restarts")
	}

	// Redis backs status streams and the shared claim check when configured.
	var (
		publisher  activities.Publisher = stream.NoopPublisher{}
		checkStore claimcheck.Store
	)
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn(ctx, "close redis", "err", err)
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		pulseClient, err := streampulse.New(streampulse.Options{Redis: rdb, StreamMaxLen: 1000})
		if err != nil {
			return fmt.Errorf("create pulse client: %w", err)
		}
		broker, err := stream.NewBroker(stream.BrokerOptions{Client: pulseClient, Logger: logger, Metrics: metrics})
		if err != nil {
			return fmt.Errorf("create stream broker: %w", err)
		}
		publisher = broker

		rcs, err := claimcheck.NewRedisStore(claimcheck.RedisStoreOptions{Client: rdb, TTL: 7 * 24 * time.Hour})
		if err != nil {
			return fmt.Errorf("create redis claim check: %w", err)
		}
		checkStore = rcs
		pingers = append(pingers, redisPinger{client: rdb})
	} else {
		fcs, err := claimcheck.NewFSStore(cfg.ClaimCheckDir)
		if err != nil {
			return fmt.Errorf("create filesystem claim check: %w", err)
		}
		checkStore = fcs
	}
	offloader, err := claimcheck.NewManager(claimcheck.ManagerOptions{
		Store:     checkStore,
		Threshold: cfg.ClaimCheckThreshold,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("create claim check manager: %w", err)
	}

	// Workflow engine.
	eng, err := engine.New(engine.Options{
		ClientOptions: &temporalclient.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
		},
		DisableWorkerAutoStart: true,
		Logger:                 logger,
		Metrics:                metrics,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	wfs := orchestrator.NewWorkflows(orchestrator.WorkflowOptions{
		DefaultRunnerQueue: queues.Runner,
	})
	if err := eng.RegisterWorkflow(engine.WorkflowDefinition{
		Name:    orchestrator.WorkflowInvoke,
		Queues:  queues,
		Handler: wfs.Invoke,
	}); err != nil {
		return err
	}

	acts, err := activities.New(activities.Options{
		Store:     store,
		Completer: eng.Client(),
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	for name, handler := range map[string]any{
		orchestrator.ActivityUpdateStatus:     acts.UpdateStatus,
		orchestrator.ActivityCompleteExternal: acts.CompleteExternal,
	} {
		if err := eng.RegisterActivity(engine.ActivityDefinition{
			Name:    name,
			Queues:  queues,
			System:  true,
			Handler: handler,
		}); err != nil {
			return err
		}
	}

	// Dev-only in-process runner. Production runners are separate deployments
	// polling the runner queue.
	if os.Getenv("BATON_DEV_ECHO_RUNNER") != "" {
		logger.Warn(ctx, "registering dev echo runner, do not use in production")
		if err := eng.RegisterActivity(engine.ActivityDefinition{
			Name:   orchestrator.ActivityExecute,
			Queues: queues,
			Handler: func(ctx context.Context, req orchestrator.ExecuteRequest) (orchestrator.ExecuteResult, error) {
				payload, err := offloader.MaybeResolve(ctx, req.Payload)
				if err != nil {
					return orchestrator.ExecuteResult{}, err
				}
				return orchestrator.ExecuteResult{Result: payload}, nil
			},
		}); err != nil {
			return err
		}
	}

	// Lifecycle service.
	var limiter *rate.Limiter
	if cfg.CreateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CreateRPS), int(cfg.CreateRPS)+1)
	}
	var validator service.Validator
	if schemaFile := os.Getenv("BATON_SCHEMA_FILE"); schemaFile != "" {
		schema, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read schema file: %w", err)
		}
		validator, err = execution.NewValidator(schemaFile, schema)
		if err != nil {
			return fmt.Errorf("compile payload schema: %w", err)
		}
	}
	svc, err := service.New(service.Options{
		Store:      store,
		Starter:    eng,
		Validator:  validator,
		Limiter:    limiter,
		Offloader:  offloader,
		Queues:     map[string]engine.Queues{queues.Domain: queues},
		RunTimeout: cfg.RunTimeout,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}

	eng.Worker().Start()
	defer eng.Worker().Stop()

	addr := envOr("BATON_ADDR", ":8080")
	srv := &http.Server{Addr: addr, Handler: apiHandler(svc, pingers)}
	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown", "err", err)
	}
	return nil
}

// apiHandler exposes the execution lifecycle over JSON HTTP.
func apiHandler(svc *service.Service, pingers []health.Pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", health.Handler(health.NewChecker(pingers...)))

	mux.HandleFunc("POST /executions", func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := svc.Create(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, service.ErrRateLimited):
				status = http.StatusTooManyRequests
			case errors.Is(err, execution.ErrAlreadyExists):
				status = http.StatusConflict
			}
			httpError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	})

	mux.HandleFunc("GET /executions", func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("GET /executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, execution.ErrNotFound) {
				status = http.StatusNotFound
			}
			httpError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// redisPinger adapts a Redis client to the health checker.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
