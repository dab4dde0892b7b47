package config

import (
	"fmt"
	"time"
)

// Config represents the flowd worker configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Project     ProjectConfig  `mapstructure:"project"`
	Worker      WorkerConfig   `mapstructure:"worker"`
	Frontend    FrontendConfig `mapstructure:"frontend"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Database    DatabaseConfig `mapstructure:"database"`
	Batch       BatchConfig    `mapstructure:"batch"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Log         LogConfig      `mapstructure:"log"`
}

// ProjectConfig identifies the pipeline project this worker serves
type ProjectConfig struct {
	ID         string `mapstructure:"id"`          // Pipeline project identifier (required)
	Name       string `mapstructure:"name"`        // Human-readable name, feeds the worker ID (required)
	ModeFilter string `mapstructure:"mode_filter"` // Only process jobs of this mode; empty = all modes
}

// WorkerConfig configures the job-processing lifecycle
type WorkerConfig struct {
	PollIntervalSeconds      int `mapstructure:"poll_interval_seconds"`      // Scheduler tick (default: 10)
	MaxConcurrentJobs        int `mapstructure:"max_concurrent_jobs"`        // Parallel job slots (default: 1, clamped to [1,100])
	MaxJobRuntimeMinutes     int `mapstructure:"max_job_runtime_minutes"`    // Jobs older than this are presumed stuck (default: 90)
	RecoveryIntervalMinutes  int `mapstructure:"recovery_interval_minutes"`  // Stuck-job sweep period (default: 60)
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"` // Liveness touch period for claimed jobs (default: 30)
	InstanceIndex            int `mapstructure:"instance_index"`             // Replica index under a supervisor, part of the worker ID (default: 0)
}

// FrontendConfig configures access to the user-facing web application
type FrontendConfig struct {
	BaseURL           string `mapstructure:"base_url"`            // e.g. "https://app.example.com"
	Secret            string `mapstructure:"secret"`              // External API key (required, env: FLOWD_FRONTEND_SECRET)
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`     // Per-request timeout (default: 30)
	RequestsPerMinute int    `mapstructure:"requests_per_minute"` // Outbound rate limit (default: 60)
}

// PipelineConfig configures access to the pipeline execution engine
type PipelineConfig struct {
	BaseURL        string `mapstructure:"base_url"`        // e.g. "http://localhost:4000"
	Secret         string `mapstructure:"secret"`          // Internal API key (required, env: FLOWD_PIPELINE_SECRET)
	TimeoutMinutes int    `mapstructure:"timeout_minutes"` // Per-execution deadline (default: 90)
	ClearResults   bool   `mapstructure:"clear_results"`   // Ask the engine to clear prior results (default: true)
}

// DatabaseConfig configures the shared SQLite job database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BatchConfig configures locally-enqueued batch jobs
type BatchConfig struct {
	OutputDir string `mapstructure:"output_dir"` // Passed to the pipeline as output_dir (default: "batch-output")
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // e.g. ":9090"; empty disables the endpoint
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Concurrency bounds for worker.max_concurrent_jobs
const (
	MinConcurrentJobs = 1
	MaxConcurrentJobs = 100
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// PollInterval returns the scheduler tick period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

// MaxJobRuntime returns how long a job may run before being presumed stuck
func (c *Config) MaxJobRuntime() time.Duration {
	return time.Duration(c.Worker.MaxJobRuntimeMinutes) * time.Minute
}

// RecoveryInterval returns the period between stuck-job sweeps
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Worker.RecoveryIntervalMinutes) * time.Minute
}

// HeartbeatInterval returns the liveness touch period for claimed jobs
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Worker.HeartbeatIntervalSeconds) * time.Second
}

// FrontendTimeout returns the per-request timeout for frontend API calls
func (c *Config) FrontendTimeout() time.Duration {
	return time.Duration(c.Frontend.TimeoutSeconds) * time.Second
}

// PipelineTimeout returns the per-execution deadline for pipeline calls
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutMinutes) * time.Minute
}

// IsProduction reports whether the worker runs with production hardening
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Project: %s, Database: %s, Workers: %d}",
		c.Project.Name, c.Database.Path, c.Worker.MaxConcurrentJobs)
}
