package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load загружает конфигурацию из TOML или YAML файла.
// Формат определяется по расширению: .yaml и .yml читаются как YAML,
// все остальное как TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, formatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Parse разбирает конфигурацию из данных в формате "toml" или "yaml",
// раскрывает переменные окружения и применяет значения по умолчанию.
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}

	expandEnvVars(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// expandEnvVars расширяет переменные окружения в строковых полях
func expandEnvVars(c *Config) {
	c.Logging.Level = expandEnv(c.Logging.Level)
	c.Logging.Format = expandEnv(c.Logging.Format)
	c.Logging.Output = expandHome(expandEnv(c.Logging.Output))

	c.Metrics.Listen = expandEnv(c.Metrics.Listen)
	c.Metrics.Namespace = expandEnv(c.Metrics.Namespace)

	for i := range c.Workqueues {
		c.Workqueues[i].Name = expandEnv(c.Workqueues[i].Name)
	}
	for i := range c.Jobs {
		c.Jobs[i].Schedule = expandEnv(c.Jobs[i].Schedule)
		c.Jobs[i].Command = expandEnv(c.Jobs[i].Command)
	}
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}

	content := s[2 : len(s)-1]
	if key, defaultVal, ok := strings.Cut(content, ":"); ok {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	// Без значения по умолчанию
	return os.Getenv(content)
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
