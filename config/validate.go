package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/internal/httpclient"
)

// Validate checks that the configuration is valid. Violations here are
// fatal at startup; soft issues are reported by SecurityWarnings.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return errors.New("project.id is required")
	}
	if c.Project.Name == "" {
		return errors.New("project.name is required")
	}

	// Secrets must be present even in development; both upstreams reject
	// unauthenticated calls.
	if c.Frontend.Secret == "" {
		return errors.New("frontend.secret is required (set FLOWD_FRONTEND_SECRET)")
	}
	if c.Pipeline.Secret == "" {
		return errors.New("pipeline.secret is required (set FLOWD_PIPELINE_SECRET)")
	}

	if c.Frontend.BaseURL == "" {
		return errors.New("frontend.base_url is required")
	}
	if c.Pipeline.BaseURL == "" {
		return errors.New("pipeline.base_url is required")
	}

	if c.Worker.PollIntervalSeconds <= 0 {
		return errors.Newf("worker.poll_interval_seconds must be > 0, got %d", c.Worker.PollIntervalSeconds)
	}
	if c.Worker.MaxJobRuntimeMinutes <= 0 {
		return errors.Newf("worker.max_job_runtime_minutes must be > 0, got %d", c.Worker.MaxJobRuntimeMinutes)
	}
	if c.Worker.RecoveryIntervalMinutes <= 0 {
		return errors.Newf("worker.recovery_interval_minutes must be > 0, got %d", c.Worker.RecoveryIntervalMinutes)
	}
	if c.Worker.HeartbeatIntervalSeconds <= 0 {
		return errors.Newf("worker.heartbeat_interval_seconds must be > 0, got %d", c.Worker.HeartbeatIntervalSeconds)
	}
	if c.Worker.InstanceIndex < 0 {
		return errors.Newf("worker.instance_index must be >= 0, got %d", c.Worker.InstanceIndex)
	}

	if c.Frontend.TimeoutSeconds <= 0 {
		return errors.Newf("frontend.timeout_seconds must be > 0, got %d", c.Frontend.TimeoutSeconds)
	}
	if c.Frontend.RequestsPerMinute <= 0 {
		return errors.Newf("frontend.requests_per_minute must be > 0, got %d", c.Frontend.RequestsPerMinute)
	}
	if c.Pipeline.TimeoutMinutes <= 0 {
		return errors.Newf("pipeline.timeout_minutes must be > 0, got %d", c.Pipeline.TimeoutMinutes)
	}

	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	return nil
}

// ApplyLimits clamps out-of-range tunables instead of rejecting them.
// Misconfigured concurrency should degrade, not take the worker down.
func (c *Config) ApplyLimits(log *zap.SugaredLogger) {
	if c.Worker.MaxConcurrentJobs < MinConcurrentJobs {
		if log != nil {
			log.Warnw("Clamping worker.max_concurrent_jobs",
				"configured", c.Worker.MaxConcurrentJobs,
				"clamped_to", MinConcurrentJobs,
			)
		}
		c.Worker.MaxConcurrentJobs = MinConcurrentJobs
	}
	if c.Worker.MaxConcurrentJobs > MaxConcurrentJobs {
		if log != nil {
			log.Warnw("Clamping worker.max_concurrent_jobs",
				"configured", c.Worker.MaxConcurrentJobs,
				"clamped_to", MaxConcurrentJobs,
			)
		}
		c.Worker.MaxConcurrentJobs = MaxConcurrentJobs
	}
}

// SecurityWarnings returns human-readable warnings for configurations
// that are accepted but unsafe. Plain HTTP toward a non-local host in
// production is flagged, not rejected: staging environments routinely
// run with production settings behind TLS-terminating proxies.
func (c *Config) SecurityWarnings() []string {
	var warnings []string

	if c.IsProduction() {
		endpoints := []struct {
			name string
			url  string
		}{
			{"frontend.base_url", c.Frontend.BaseURL},
			{"pipeline.base_url", c.Pipeline.BaseURL},
		}
		for _, ep := range endpoints {
			if strings.HasPrefix(ep.url, "http://") && !httpclient.IsLocalhostURL(ep.url) {
				warnings = append(warnings, fmt.Sprintf(
					"%s uses plain HTTP to a non-local host in production: %s", ep.name, ep.url))
			}
		}
	}

	return warnings
}
