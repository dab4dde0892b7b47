package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Project defaults (id and name have no defaults; they are required)
	v.SetDefault("project.mode_filter", "")

	// Worker lifecycle defaults
	v.SetDefault("worker.poll_interval_seconds", 10)
	v.SetDefault("worker.max_concurrent_jobs", 1)
	v.SetDefault("worker.max_job_runtime_minutes", 90)
	v.SetDefault("worker.recovery_interval_minutes", 60)
	v.SetDefault("worker.heartbeat_interval_seconds", 30)
	v.SetDefault("worker.instance_index", 0)

	// Frontend API defaults
	v.SetDefault("frontend.timeout_seconds", 30)
	v.SetDefault("frontend.requests_per_minute", 60) // Polite pacing toward the shared web app

	// Pipeline API defaults
	v.SetDefault("pipeline.timeout_minutes", 90)
	v.SetDefault("pipeline.clear_results", true)

	// Database defaults
	v.SetDefault("database.path", "flowd.db")

	// Batch defaults
	v.SetDefault("batch.output_dir", "batch-output")

	// Metrics endpoint disabled unless an address is configured
	v.SetDefault("metrics.addr", "")

	// Log defaults
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// API secrets never belong in config files on shared hosts
	v.BindEnv("frontend.secret", "FLOWD_FRONTEND_SECRET")
	v.BindEnv("pipeline.secret", "FLOWD_PIPELINE_SECRET")

	// Database path
	v.BindEnv("database.path", "FLOWD_DATABASE_PATH")
}
