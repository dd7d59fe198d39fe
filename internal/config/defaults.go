package config

import "github.com/aatumaykin/deferq/internal/stress"

// Default returns the configuration used when no file is given: one per-CPU
// workqueue named "default" and no jobs.
func Default() *Config {
	cfg := &Config{
		Workqueues: []WorkqueueConfig{{Name: "default"}},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "deferq"
	}

	for i := range c.Workqueues {
		if c.Workqueues[i].Mode == "" {
			c.Workqueues[i].Mode = "per_cpu"
		}
	}

	def := stress.DefaultConfig()
	if c.Stress.Producers == 0 {
		c.Stress.Producers = def.Producers
	}
	if c.Stress.Flushers == 0 {
		c.Stress.Flushers = def.Flushers
	}
	if c.Stress.Items == 0 {
		c.Stress.Items = def.Items
	}
	if c.Stress.Burst == 0 {
		c.Stress.Burst = def.Burst
	}
	if c.Stress.Mode == "" {
		c.Stress.Mode = "per_cpu"
	}
}
