// Package config provides configuration management for the application.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// (with ${VAR} and ${VAR:-default} placeholders expanded), then environment
// variables. A .env file in the working directory is loaded first and never
// overrides variables already present in the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no explicit path is supplied.
const DefaultConfigPath = "config/config.yaml"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	HTTP       HTTPConfig       `yaml:"http"`
	Hosts      HostsConfig      `yaml:"hosts"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Admin      AdminConfig      `yaml:"admin"`
	Health     HealthConfig     `yaml:"health"`
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	RequestLog RequestLogConfig `yaml:"request_log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port" env:"PORT, overwrite"`
	// MasterKey protects the management routes. Empty disables auth.
	MasterKey      string `yaml:"master_key" env:"OLLAMASWARM_MASTER_KEY, overwrite"`
	BodySizeLimit  string `yaml:"body_size_limit" env:"BODY_SIZE_LIMIT, overwrite"`
	SwaggerEnabled bool   `yaml:"swagger_enabled" env:"SWAGGER_ENABLED, overwrite"`
}

// HTTPConfig tunes the outbound HTTP client used to reach backends.
type HTTPConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout" env:"HTTP_DIAL_TIMEOUT, overwrite"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" env:"HTTP_RESPONSE_HEADER_TIMEOUT, overwrite"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host" env:"HTTP_MAX_IDLE_CONNS_PER_HOST, overwrite"`
}

// HostsConfig lists backends registered at startup.
type HostsConfig struct {
	Seed []string `yaml:"seed" env:"OLLAMA_HOSTS, overwrite"`
}

// ProxyConfig controls request forwarding under the reserved prefixes.
type ProxyConfig struct {
	Prefixes    []string      `yaml:"prefixes" env:"PROXY_PREFIXES, overwrite"`
	Timeout     time.Duration `yaml:"timeout" env:"PROXY_TIMEOUT, overwrite"`
	PullTimeout time.Duration `yaml:"pull_timeout" env:"PROXY_PULL_TIMEOUT, overwrite"`
	Failover    bool          `yaml:"failover" env:"PROXY_FAILOVER, overwrite"`
}

// AdminConfig controls the fan-out admin operations.
type AdminConfig struct {
	MaxConcurrency    int           `yaml:"max_concurrency" env:"ADMIN_MAX_CONCURRENCY, overwrite"`
	ListModelsTimeout time.Duration `yaml:"list_models_timeout" env:"ADMIN_LIST_MODELS_TIMEOUT, overwrite"`
	PullTimeout       time.Duration `yaml:"pull_timeout" env:"ADMIN_PULL_TIMEOUT, overwrite"`
}

// HealthConfig controls liveness tracking. An interval of 0 disables the
// background prober; passive tracking from proxied traffic stays on.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval" env:"HEALTH_INTERVAL, overwrite"`
	Timeout          time.Duration `yaml:"timeout" env:"HEALTH_TIMEOUT, overwrite"`
	FailureThreshold int           `yaml:"failure_threshold" env:"HEALTH_FAILURE_THRESHOLD, overwrite"`
	Cooldown         time.Duration `yaml:"cooldown" env:"HEALTH_COOLDOWN, overwrite"`
}

// CacheConfig selects where the registry snapshot is persisted.
type CacheConfig struct {
	// Type is "none", "local" or "redis".
	Type  string           `yaml:"type" env:"CACHE_TYPE, overwrite"`
	Local LocalCacheConfig `yaml:"local"`
	Redis RedisConfig      `yaml:"redis"`
}

// LocalCacheConfig holds file cache settings
type LocalCacheConfig struct {
	Dir string `yaml:"dir" env:"CACHE_DIR, overwrite"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string        `yaml:"url" env:"REDIS_URL, overwrite"`
	Key string        `yaml:"key" env:"REDIS_KEY, overwrite"`
	TTL time.Duration `yaml:"ttl" env:"REDIS_TTL, overwrite"`
}

// StorageConfig holds database configuration for the request log.
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb".
	Type       string           `yaml:"type" env:"STORAGE_TYPE, overwrite"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH, overwrite"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url" env:"POSTGRES_URL, overwrite"`
	MaxConns int    `yaml:"max_conns" env:"POSTGRES_MAX_CONNS, overwrite"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url" env:"MONGODB_URL, overwrite"`
	Database string `yaml:"database" env:"MONGODB_DATABASE, overwrite"`
}

// RequestLogConfig controls the durable log of proxied requests.
type RequestLogConfig struct {
	Enabled       bool          `yaml:"enabled" env:"REQUEST_LOG_ENABLED, overwrite"`
	BufferSize    int           `yaml:"buffer_size" env:"REQUEST_LOG_BUFFER_SIZE, overwrite"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"REQUEST_LOG_FLUSH_INTERVAL, overwrite"`
	RetentionDays int           `yaml:"retention_days" env:"REQUEST_LOG_RETENTION_DAYS, overwrite"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"METRICS_ENABLED, overwrite"`
	Endpoint string `yaml:"endpoint" env:"METRICS_ENDPOINT, overwrite"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Format is "auto", "json", "text" or "pretty".
	Format string `yaml:"format" env:"LOG_FORMAT, overwrite"`
	Level  string `yaml:"level" env:"LOG_LEVEL, overwrite"`
}

// LoadResult carries the loaded config plus where it came from.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was applied, empty if none was found.
	Path string
}

// Options adjusts Load.
type Options struct {
	// ConfigPath overrides the YAML location. Empty means
	// $OLLAMASWARM_CONFIG, then DefaultConfigPath, then ./config.yaml.
	ConfigPath string
	// EnvFile is loaded with godotenv before anything else. Empty means ".env".
	EnvFile string
	// Lookuper replaces the process environment for overrides. Tests only.
	Lookuper envconfig.Lookuper
}

// Load reads configuration from defaults, file and environment.
func Load() (*LoadResult, error) {
	return LoadWithOptions(context.Background(), Options{})
}

// LoadWithOptions is Load with explicit sources.
func LoadWithOptions(ctx context.Context, opts Options) (*LoadResult, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := DefaultConfig()

	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyYAMLFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(ctx, cfg, opts.Lookuper); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, Path: path}, nil
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		HTTP: HTTPConfig{
			DialTimeout:           10 * time.Second,
			ResponseHeaderTimeout: 0,
			MaxIdleConnsPerHost:   32,
		},
		Proxy: ProxyConfig{
			Prefixes:    []string{"/api", "/v1"},
			Timeout:     60 * time.Second,
			PullTimeout: 600 * time.Second,
			Failover:    true,
		},
		Admin: AdminConfig{
			MaxConcurrency:    8,
			ListModelsTimeout: 15 * time.Second,
			PullTimeout:       600 * time.Second,
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Cache: CacheConfig{
			Type:  "none",
			Local: LocalCacheConfig{Dir: ".cache"},
			Redis: RedisConfig{Key: "ollamaswarm:registry", TTL: 0},
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/ollamaswarm.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "ollamaswarm"},
		},
		RequestLog: RequestLogConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if env := os.Getenv("OLLAMASWARM_CONFIG"); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("config file %s: %w", env, err)
		}
		return env, nil
	}
	for _, candidate := range []string{DefaultConfigPath, "config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func applyYAMLFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := expandString(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A placeholder without a
// default whose variable is unset or empty is left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Type {
	case "", "none", "local":
	case "redis":
		if c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q", c.Cache.Type))
	}

	if c.RequestLog.Enabled {
		switch c.Storage.Type {
		case "sqlite":
		case "postgresql":
			if c.Storage.PostgreSQL.URL == "" {
				errs = append(errs, errors.New("storage.postgresql.url is required when storage.type is postgresql"))
			}
		case "mongodb":
			if c.Storage.MongoDB.URL == "" {
				errs = append(errs, errors.New("storage.mongodb.url is required when storage.type is mongodb"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
		}
	}

	if c.Proxy.Timeout <= 0 {
		errs = append(errs, errors.New("proxy.timeout must be positive"))
	}
	if c.Admin.MaxConcurrency < 1 {
		errs = append(errs, errors.New("admin.max_concurrency must be at least 1"))
	}
	for _, p := range c.Proxy.Prefixes {
		if !strings.HasPrefix(p, "/") || p == "/" {
			errs = append(errs, fmt.Errorf("proxy prefix %q must start with / and name a path", p))
		}
	}

	switch c.Log.Format {
	case "", "auto", "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
