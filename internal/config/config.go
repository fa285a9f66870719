package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count that reads human sizes such as "512MB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	n, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", node.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

type Config struct {
	Port            int           `yaml:"port"`
	DataDir         string        `yaml:"data_dir"`
	CacheDir        string        `yaml:"cache_dir"`
	CacheMaxFiles   int           `yaml:"cache_max_files"`
	CacheMaxBytes   ByteSize      `yaml:"cache_max_bytes"`
	CacheMaxAge     time.Duration `yaml:"cache_max_age"`
	FontDir         string        `yaml:"font_dir"`
	DefaultFont     string        `yaml:"default_font"`
	StatsDB         string        `yaml:"stats_db"`
	MaxAge          int           `yaml:"max_age"`
	LogLevel        string        `yaml:"log_level"`
	VipsMaxCacheMB  int           `yaml:"vips_max_cache_mb"`
	VipsConcurrency int           `yaml:"vips_concurrency"`
	WarmupSizes     []string      `yaml:"warmup_sizes"`
	WarmupWorkers   int           `yaml:"warmup_workers"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
}

func defaults() *Config {
	return &Config{
		Port:            8080,
		DataDir:         "/data",
		CacheMaxFiles:   10000,
		CacheMaxBytes:   512 * 1000 * 1000,
		CacheMaxAge:     7 * 24 * time.Hour,
		DefaultFont:     "go",
		MaxAge:          3600,
		LogLevel:        "info",
		VipsMaxCacheMB:  64,
		VipsConcurrency: 1,
		WarmupWorkers:   1,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.CacheMaxFiles = getEnvInt("CACHE_MAX_FILES", cfg.CacheMaxFiles)
	cfg.CacheMaxBytes = getEnvBytes("CACHE_MAX_BYTES", cfg.CacheMaxBytes)
	cfg.CacheMaxAge = getEnvDuration("CACHE_MAX_AGE", cfg.CacheMaxAge)
	cfg.FontDir = getEnv("FONT_DIR", cfg.FontDir)
	cfg.DefaultFont = strings.ToLower(getEnv("DEFAULT_FONT", cfg.DefaultFont))
	cfg.StatsDB = getEnv("STATS_DB", cfg.StatsDB)
	cfg.MaxAge = getEnvInt("MAX_AGE", cfg.MaxAge)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.VipsMaxCacheMB = getEnvInt("VIPS_MAX_CACHE_MB", cfg.VipsMaxCacheMB)
	cfg.VipsConcurrency = getEnvInt("VIPS_CONCURRENCY", cfg.VipsConcurrency)
	cfg.WarmupSizes = getEnvList("WARMUP_SIZES", cfg.WarmupSizes)
	cfg.WarmupWorkers = getEnvInt("WARMUP_WORKERS", cfg.WarmupWorkers)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)

	// Paths under the data dir are derived last so DATA_DIR moves them too.
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.StatsDB == "" {
		cfg.StatsDB = filepath.Join(cfg.DataDir, "stats.db")
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBytes(key string, defaultValue ByteSize) ByteSize {
	if value := os.Getenv(key); value != "" {
		if n, err := humanize.ParseBytes(value); err == nil {
			return ByteSize(n)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
