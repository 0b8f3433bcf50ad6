// Package config loads Baton's runtime configuration from the environment.
// Every knob has a zero-config default so a local Temporal dev server plus
// the in-memory store is enough to run the daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/batonhq/baton/engine"
)

// Defaults for a local development setup.
const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultDomain            = "agent-execution"
	DefaultMongoDatabase     = "baton"
)

// Config is the daemon configuration.
type Config struct {
	// TemporalHostPort is the Temporal frontend address.
	TemporalHostPort string

	// TemporalNamespace is the Temporal namespace.
	TemporalNamespace string

	// Domain is the execution domain served by this daemon.
	Domain string

	// OrchestratorQueue and RunnerQueue override the conventional queue
	// names derived from Domain. Both or neither should be set.
	OrchestratorQueue string
	RunnerQueue       string

	// MongoURL enables the durable record store. Empty uses the in-memory
	// store.
	MongoURL      string
	MongoDatabase string

	// RedisURL enables status streams and the Redis claim check backend.
	// Empty disables streaming and uses the filesystem claim check.
	RedisURL      string
	RedisPassword string

	// ClaimCheckThreshold is the payload offload threshold in bytes. Zero
	// uses the claim check default.
	ClaimCheckThreshold int

	// ClaimCheckDir is the filesystem claim check root, used when no Redis
	// is configured.
	ClaimCheckDir string

	// CreateRPS rate limits execution creates. Zero means unlimited.
	CreateRPS float64

	// RunTimeout bounds each orchestration workflow. Zero means no bound.
	RunTimeout time.Duration

	// Debug enables debug logging.
	Debug bool
}

// Load reads the configuration from environment variables, applying
// defaults.
func Load() Config {
	return Config{
		TemporalHostPort:    envOr("TEMPORAL_HOST_PORT", DefaultTemporalHostPort),
		TemporalNamespace:   envOr("TEMPORAL_NAMESPACE", DefaultTemporalNamespace),
		Domain:              envOr("BATON_DOMAIN", DefaultDomain),
		OrchestratorQueue:   os.Getenv("BATON_ORCHESTRATOR_QUEUE"),
		RunnerQueue:         os.Getenv("BATON_RUNNER_QUEUE"),
		MongoURL:            os.Getenv("MONGO_URL"),
		MongoDatabase:       envOr("MONGO_DATABASE", DefaultMongoDatabase),
		RedisURL:            os.Getenv("REDIS_URL"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		ClaimCheckThreshold: envIntOr("CLAIMCHECK_THRESHOLD_BYTES", 0),
		ClaimCheckDir:       envOr("CLAIMCHECK_DIR", filepath.Join(os.TempDir(), "baton-claimcheck")),
		CreateRPS:           envFloatOr("BATON_CREATE_RPS", 0),
		RunTimeout:          envDurationOr("BATON_RUN_TIMEOUT", 0),
		Debug:               os.Getenv("BATON_DEBUG") != "",
	}
}

// Queues returns the task-queue pair for the configured domain, honoring
// explicit overrides.
func (c Config) Queues() engine.Queues {
	q := engine.ForDomain(c.Domain)
	if c.OrchestratorQueue != "" {
		q.Orchestrator = c.OrchestratorQueue
	}
	if c.RunnerQueue != "" {
		q.Runner = c.RunnerQueue
	}
	return q
}

// Validate checks the configuration for startup errors, including the
// queue disjointness rule.
func (c Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("baton config: domain is required")
	}
	if c.TemporalHostPort == "" {
		return fmt.Errorf("baton config: temporal host port is required")
	}
	if c.MongoURL != "" && c.MongoDatabase == "" {
		return fmt.Errorf("baton config: mongo database name is required when MONGO_URL is set")
	}
	return c.Queues().Validate()
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
