// Package config loads runtime configuration for the deployer and service
// host processes from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full set of runtime settings for a service host or the
// deployer.
type Config struct {
	Service    ServiceConfig
	Ports      PortConfig
	Join       JoinConfig
	Commit     CommitConfig
	Telemetry  TelemetryConfig
	Paths      PathConfig
}

// ServiceConfig holds process identity and logging settings.
type ServiceConfig struct {
	Name      string
	LogLevel  string
	LogFormat string
	AdminPort int
}

// PortConfig holds the base ports from which per-(channel,port) addresses
// are derived (spec §4.8/§6 port map).
type PortConfig struct {
	RuleBase     int
	EventBase    int
	SyncBase     int
	CommitBase   int
	ShutdownBase int
}

// JoinConfig controls join coordination behavior.
type JoinConfig struct {
	SchedulingMode string // "optimized" or "sequential"
}

// CommitConfig controls the rule deployer's commitment protocol.
type CommitConfig struct {
	TimeoutMS  int
	MaxRetries int
}

// TelemetryConfig controls the optional Postgres-backed telemetry writer.
type TelemetryConfig struct {
	Enabled     bool
	DatabaseURL string
}

// PathConfig holds filesystem locations for process definitions and rule
// folders.
type PathConfig struct {
	CommonFolder          string
	ProcessDefinitionDir  string
	RuleFolderDir         string
	RunningMarkerDir      string
}

// Load reads configuration from the environment, applying defaults that
// match the port map and timeouts from the spec.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:      serviceName,
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
			AdminPort: getEnvInt("ADMIN_PORT", 8080),
		},
		Ports: PortConfig{
			RuleBase:     getEnvInt("RULE_BASE_PORT", 20000),
			EventBase:    getEnvInt("EVENT_BASE_PORT", 10000),
			SyncBase:     getEnvInt("SYNC_BASE_PORT", 30000),
			CommitBase:   getEnvInt("COMMIT_BASE_PORT", 35000),
			ShutdownBase: getEnvInt("SHUTDOWN_BASE_PORT", 39000),
		},
		Join: JoinConfig{
			SchedulingMode: getEnv("JOIN_SCHEDULING_MODE", "optimized"),
		},
		Commit: CommitConfig{
			TimeoutMS:  getEnvInt("COMMIT_TIMEOUT_MS", 5000),
			MaxRetries: getEnvInt("MAX_RETRIES", 3),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvBool("TELEMETRY_ENABLED", false),
			DatabaseURL: getEnv("TELEMETRY_DATABASE_URL", ""),
		},
		Paths: PathConfig{
			CommonFolder:         getEnv("COMMON_FOLDER", "."),
			ProcessDefinitionDir: getEnv("PROCESS_DEFINITION_DIR", "ProcessDefinitionFolder"),
			RuleFolderDir:        getEnv("RULE_FOLDER_DIR", "RuleFolder"),
			RunningMarkerDir:     getEnv("RUNNING_MARKER_DIR", "."),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.Join.SchedulingMode != "optimized" && c.Join.SchedulingMode != "sequential" {
		return fmt.Errorf("invalid JOIN_SCHEDULING_MODE: %q", c.Join.SchedulingMode)
	}
	if c.Commit.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.DatabaseURL == "" {
		return fmt.Errorf("TELEMETRY_DATABASE_URL required when TELEMETRY_ENABLED=true")
	}
	return nil
}

// CommitTimeout returns the commitment ack wait as a time.Duration.
func (c *CommitConfig) CommitTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
