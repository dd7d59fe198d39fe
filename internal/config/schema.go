// Package config provides configuration loading and validation for deferq.
// It supports TOML and YAML configuration files with environment variable
// expansion, default values, and validation.
//
// Configuration structure:
//   - [logging]: Logging level, format, and output
//   - [metrics]: Prometheus endpoint settings
//   - [[workqueues]]: Workqueues created at startup
//   - [[jobs]]: Cron jobs that queue work on those workqueues
//   - [stress]: Defaults for the stress command
//
// Environment variables:
// String values can reference environment variables using ${VAR} or
// ${VAR:default} syntax. For example: listen = "${DEFERQ_LISTEN::9090}"
package config

// Config represents the main application configuration.
type Config struct {
	Logging    LoggingConfig     `toml:"logging" yaml:"logging"`
	Metrics    MetricsConfig     `toml:"metrics" yaml:"metrics"`
	Workqueues []WorkqueueConfig `toml:"workqueues" yaml:"workqueues"`
	Jobs       []JobConfig       `toml:"jobs" yaml:"jobs"`
	Stress     StressConfig      `toml:"stress" yaml:"stress"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Output string `toml:"output" yaml:"output"`
}

// MetricsConfig представляет конфигурацию Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Listen    string `toml:"listen" yaml:"listen"`
	Path      string `toml:"path" yaml:"path"`
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// WorkqueueConfig описывает одну workqueue.
// Нулевые значения числовых полей означают значение по умолчанию движка.
type WorkqueueConfig struct {
	Name        string `toml:"name" yaml:"name"`
	Mode        string `toml:"mode" yaml:"mode"` // per_cpu или single_thread
	Freezable   bool   `toml:"freezable" yaml:"freezable"`
	CPUs        int    `toml:"cpus" yaml:"cpus"`
	BindCPUs    bool   `toml:"bind_cpus" yaml:"bind_cpus"`
	FlushColors int    `toml:"flush_colors" yaml:"flush_colors"`
	History     int    `toml:"history" yaml:"history"`
}

// JobConfig описывает cron задачу
type JobConfig struct {
	ID             string `toml:"id" yaml:"id"`
	Workqueue      string `toml:"workqueue" yaml:"workqueue"`
	Schedule       string `toml:"schedule" yaml:"schedule"`
	DelaySeconds   int    `toml:"delay_seconds" yaml:"delay_seconds"`
	Command        string `toml:"command" yaml:"command"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	// Повторы после ошибки с экспоненциальной задержкой
	Retries             int `toml:"retries" yaml:"retries"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`
}

// StressConfig задает параметры команды stress по умолчанию
type StressConfig struct {
	Producers      int     `toml:"producers" yaml:"producers"`
	Flushers       int     `toml:"flushers" yaml:"flushers"`
	Items          int     `toml:"items" yaml:"items"`
	Rate           float64 `toml:"rate" yaml:"rate"`
	Burst          int     `toml:"burst" yaml:"burst"`
	WorkDurationMs int     `toml:"work_duration_ms" yaml:"work_duration_ms"`
	Mode           string  `toml:"mode" yaml:"mode"`
	FlushColors    int     `toml:"flush_colors" yaml:"flush_colors"`
}
