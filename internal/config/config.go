package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the shardix API configuration.
type Config struct {
	HTTP      HTTPConfig     `yaml:"http"`
	Database  DatabaseConfig `yaml:"database"`
	Index     IndexConfig    `yaml:"index"`
	Storage   StorageConfig  `yaml:"storage"`
	Resources []string       `yaml:"resources"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds persistence driver settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds shard and update-worker settings.
type IndexConfig struct {
	BucketWidthSec     int64 `yaml:"bucket_width_sec"`
	DrainIntervalMs    int   `yaml:"drain_interval_ms"`
	FlushWaitSec       int   `yaml:"flush_wait_sec"`
	MaxFlushWaitSec    int   `yaml:"max_flush_wait_sec"`
	TokenizerCacheSize int   `yaml:"tokenizer_cache_size"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.BucketWidthSec <= 0 {
		c.Index.BucketWidthSec = 100
	}
	if c.Index.DrainIntervalMs <= 0 {
		c.Index.DrainIntervalMs = 50
	}
	if c.Index.FlushWaitSec <= 0 {
		c.Index.FlushWaitSec = 2
	}
	if c.Index.MaxFlushWaitSec <= 0 {
		c.Index.MaxFlushWaitSec = 30
	}
	if c.Index.TokenizerCacheSize <= 0 {
		c.Index.TokenizerCacheSize = 4096
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "shardix:"
	}
	if len(c.Resources) == 0 {
		c.Resources = []string{"documents"}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.Driver != "memory" && c.Database.Driver != "redis" {
		return fmt.Errorf("database.driver must be \"memory\" or \"redis\", got %q", c.Database.Driver)
	}
	if c.Database.Driver == "redis" && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required for the redis driver")
	}
	seen := make(map[string]bool, len(c.Resources))
	for _, name := range c.Resources {
		if name == "" {
			return fmt.Errorf("resources must not contain empty names")
		}
		if strings.ContainsAny(name, "/ ") {
			return fmt.Errorf("resource name %q must not contain slashes or spaces", name)
		}
		if seen[name] {
			return fmt.Errorf("resource %q is listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
