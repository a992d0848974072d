package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "PGM"

// Store kinds accepted by SessionStore.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds settings shared by the console server and the CLI.
// Values come from defaults, then an optional TOML file, then PGM_* environment variables.
type Config struct {
	BackendURL    string        `toml:"backend_url" envconfig:"BACKEND_URL"`
	StepTimeout   time.Duration `toml:"step_timeout" envconfig:"STEP_TIMEOUT"`
	BackendRPS    float64       `toml:"backend_rps" envconfig:"BACKEND_RPS"`
	BackendBurst  int           `toml:"backend_burst" envconfig:"BACKEND_BURST"`
	UserAgent     string        `toml:"user_agent" envconfig:"USER_AGENT"`
	ListenAddr    string        `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	RateLimitRPS  int           `toml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateBurst     int           `toml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	SessionStore  string        `toml:"session_store" envconfig:"SESSION_STORE"`
	SessionDir    string        `toml:"session_dir" envconfig:"SESSION_DIR"`
	SessionSecret string        `toml:"session_secret" envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `toml:"session_ttl" envconfig:"SESSION_TTL"`
	CookieName    string        `toml:"cookie_name" envconfig:"COOKIE_NAME"`
	CookieSecure  bool          `toml:"cookie_secure" envconfig:"COOKIE_SECURE"`
	RedisAddr     string        `toml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `toml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `toml:"redis_db" envconfig:"REDIS_DB"`
	PostgresDSN   string        `toml:"postgres_dsn" envconfig:"PG_DSN"`
	LogLevel      string        `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat     string        `toml:"log_format" envconfig:"LOG_FORMAT"`
	OTLPEndpoint  string        `toml:"otlp_endpoint" envconfig:"OTLP_ENDPOINT"`
	OTLPInsecure  bool          `toml:"otlp_insecure" envconfig:"OTLP_INSECURE"`
}

// Default returns the built-in settings.
func Default() Config {
	dir := ".pgmanage"
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dir = home + string(os.PathSeparator) + ".pgmanage"
	}
	return Config{
		BackendURL:   "http://localhost:8000",
		StepTimeout:  10 * time.Second,
		BackendRPS:   20,
		BackendBurst: 10,
		UserAgent:    "pgmanage-console",
		ListenAddr:   ":8080",
		RateLimitRPS: 10,
		RateBurst:    20,
		SessionStore: StoreFile,
		SessionDir:   dir,
		SessionTTL:   12 * time.Hour,
		CookieName:   "pgm_session",
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load builds the configuration. path may be empty; PGM_CONFIG is consulted then.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if strings.TrimSpace(path) != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("config: backend_url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backend_url %q is not an absolute URL", c.BackendURL)
	}
	if c.StepTimeout < 0 {
		return errors.New("config: step_timeout must be >= 0")
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.SessionDir) == "" {
			return errors.New("config: session_dir is required for the file store")
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("config: redis_addr is required for the redis store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("config: postgres_dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown session_store %q", c.SessionStore)
	}
	if len(c.SessionSecret) > 0 && len(c.SessionSecret) < 16 {
		return errors.New("config: session_secret must be at least 16 bytes")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: session_ttl must be > 0")
	}
	return nil
}
