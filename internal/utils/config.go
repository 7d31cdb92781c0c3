package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported converter backends.
const (
	BackendPDF2HTMLEX = "pdf2htmlex"
	BackendTextLayer  = "textlayer"
)

// PostgresConfig describes the optional API token database.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration loaded from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Storage struct {
		ArtifactDir string `yaml:"artifact_dir"`
	} `yaml:"storage"`

	Cache struct {
		HTMLCacheEnabled bool          `yaml:"html_cache_enabled"`
		HTMLCacheTTL     time.Duration `yaml:"html_cache_ttl"`
		RedisHost        string        `yaml:"redis_host"`
		RateLimitDB      int           `yaml:"redis_rate_db"`
		HTMLCacheDB      int           `yaml:"redis_html_db"`
	} `yaml:"cache"`

	Fetch struct {
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
		UserAgent  string        `yaml:"user_agent"`
	} `yaml:"fetch"`

	Converter struct {
		Backend     string   `yaml:"backend"`
		Binary      string   `yaml:"binary"`
		Args        []string `yaml:"args"`
		TimeoutSecs int      `yaml:"timeout_secs"`
		PoolSize    int      `yaml:"pool_size"`
	} `yaml:"converter"`

	Static struct {
		Dir     string `yaml:"dir"`
		DocsDir string `yaml:"docs_dir"`
	} `yaml:"static"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`
}

var (
	// AppConfig holds the most recently loaded configuration.
	AppConfig Config
	configMu  sync.RWMutex
)

// DefaultConfig returns the configuration used when no file is present.
// PDF2HTMLEX_BIN replaces the default pdf2htmlEX binary.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = ""
	cfg.Server.Port = ":3002"
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Storage.ArtifactDir = "files"
	cfg.Cache.HTMLCacheTTL = 24 * time.Hour
	cfg.Cache.RateLimitDB = 0
	cfg.Cache.HTMLCacheDB = 1
	cfg.Fetch.Timeout = 60 * time.Second
	cfg.Fetch.MaxRetries = 2
	cfg.Fetch.UserAgent = "pdf2html/1.0"
	cfg.Converter.Backend = BackendPDF2HTMLEX
	cfg.Converter.Binary = "pdf2htmlEX"
	if v := os.Getenv("PDF2HTMLEX_BIN"); v != "" {
		cfg.Converter.Binary = v
	}
	cfg.Converter.TimeoutSecs = 120
	cfg.Converter.PoolSize = 4
	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (default config.yaml) and
// stores the result in AppConfig.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom reads the YAML file at path on top of DefaultConfig.
// A missing file yields the defaults; malformed or invalid values panic.
// PDF2HTMLEX_BIN applies unless the file sets converter.binary.
func LoadConfigFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		panic(fmt.Sprintf("failed to read config %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("failed to parse config %s: %v", path, err))
		}
	}

	if cfg.Converter.Binary == "" {
		if v := os.Getenv("PDF2HTMLEX_BIN"); v != "" {
			cfg.Converter.Binary = v
		}
	}

	if err := validateConfig(cfg); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}

	SetConfig(cfg)
	return cfg
}

func validateConfig(cfg Config) error {
	switch strings.ToLower(cfg.Converter.Backend) {
	case BackendPDF2HTMLEX:
		if cfg.Converter.Binary == "" {
			return errors.New("converter.binary is required for the pdf2htmlex backend")
		}
	case BackendTextLayer:
	default:
		return fmt.Errorf("unknown converter.backend %q", cfg.Converter.Backend)
	}
	if cfg.Converter.PoolSize < 0 {
		return errors.New("converter.pool_size must not be negative")
	}
	if cfg.Converter.TimeoutSecs <= 0 {
		return errors.New("converter.timeout_secs must be positive")
	}
	if cfg.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if cfg.Fetch.MaxRetries < 0 {
		return errors.New("fetch.max_retries must not be negative")
	}
	if cfg.Storage.ArtifactDir == "" {
		return errors.New("storage.artifact_dir is required")
	}
	if cfg.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	return nil
}

// SetConfig replaces AppConfig.
func SetConfig(cfg Config) {
	configMu.Lock()
	AppConfig = cfg
	configMu.Unlock()
}

// GetConfig returns a copy of AppConfig.
func GetConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return AppConfig
}
