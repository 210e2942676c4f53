package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the YAML file and environment overrides.
const (
	DefaultAPIBaseURL       = "http://localhost:8080/api"
	DefaultPollInterval     = 5 * time.Second
	DefaultConfirmDelay     = 3 * time.Second
	DefaultAPITimeout       = 15 * time.Second
	DefaultHTTPListenAddr   = ":9090"
	DefaultMetricsNamespace = "gallerio"
	DefaultSessionPath      = ".gallerio/session.json"
	DefaultRedisSessionKey  = "gallerio:session"
)

// Config holds every runtime setting of the client.
type Config struct {
	AppEnv    string `yaml:"appEnv"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	APIBaseURL string        `yaml:"apiBaseURL"`
	APITimeout time.Duration `yaml:"apiTimeout"`

	PollInterval time.Duration `yaml:"pollInterval"`
	ConfirmDelay time.Duration `yaml:"confirmDelay"`

	SessionBackend string `yaml:"sessionBackend"`
	SessionPath    string `yaml:"sessionPath"`
	SessionKey     string `yaml:"sessionKey"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisTLS      bool   `yaml:"redisTLS"`

	LedgerDriver string `yaml:"ledgerDriver"`
	LedgerDSN    string `yaml:"ledgerDSN"`
	LedgerSchema string `yaml:"ledgerSchema"`

	HTTPListenAddr   string `yaml:"httpListenAddr"`
	PublicBasePath   string `yaml:"publicBasePath"`
	MetricsNamespace string `yaml:"metricsNamespace"`

	WebhookUsername string `yaml:"webhookUsername"`
	WebhookPassword string `yaml:"webhookPassword"`
}

// Default returns a config populated with defaults only.
func Default() Config {
	return Config{
		AppEnv:           "development",
		LogLevel:         "info",
		LogFormat:        "text",
		APIBaseURL:       DefaultAPIBaseURL,
		APITimeout:       DefaultAPITimeout,
		PollInterval:     DefaultPollInterval,
		ConfirmDelay:     DefaultConfirmDelay,
		SessionBackend:   "file",
		SessionPath:      DefaultSessionPath,
		SessionKey:       DefaultRedisSessionKey,
		LedgerDriver:     "none",
		HTTPListenAddr:   DefaultHTTPListenAddr,
		MetricsNamespace: DefaultMetricsNamespace,
	}
}

// Load reads the optional YAML file at path, then applies GALLERIO_* environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.normalise()
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.AppEnv, "GALLERIO_APP_ENV")
	setString(&cfg.LogLevel, "GALLERIO_LOG_LEVEL")
	setString(&cfg.LogFormat, "GALLERIO_LOG_FORMAT")
	setString(&cfg.APIBaseURL, "GALLERIO_API_BASE_URL")
	setString(&cfg.SessionBackend, "GALLERIO_SESSION_BACKEND")
	setString(&cfg.SessionPath, "GALLERIO_SESSION_PATH")
	setString(&cfg.SessionKey, "GALLERIO_SESSION_KEY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.LedgerDriver, "GALLERIO_LEDGER_DRIVER")
	setString(&cfg.LedgerDSN, "GALLERIO_LEDGER_DSN")
	setString(&cfg.LedgerSchema, "GALLERIO_LEDGER_SCHEMA")
	setString(&cfg.HTTPListenAddr, "GALLERIO_HTTP_LISTEN_ADDR")
	setString(&cfg.PublicBasePath, "GALLERIO_PUBLIC_BASE_PATH")
	setString(&cfg.MetricsNamespace, "GALLERIO_METRICS_NAMESPACE")
	setString(&cfg.WebhookUsername, "GALLERIO_WEBHOOK_USERNAME")
	setString(&cfg.WebhookPassword, "GALLERIO_WEBHOOK_PASSWORD")

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	if v := os.Getenv("REDIS_TLS"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: REDIS_TLS: %w", err)
		}
		cfg.RedisTLS = b
	}
	for key, dst := range map[string]*time.Duration{
		"GALLERIO_API_TIMEOUT":   &cfg.APITimeout,
		"GALLERIO_POLL_INTERVAL": &cfg.PollInterval,
		"GALLERIO_CONFIRM_DELAY": &cfg.ConfirmDelay,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) normalise() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	c.LedgerDriver = strings.ToLower(strings.TrimSpace(c.LedgerDriver))
	if c.LedgerDriver == "" {
		c.LedgerDriver = "none"
	}
}

func validateConfig(cfg Config) error {
	if cfg.APIBaseURL == "" {
		return errors.New("config: apiBaseURL is required")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: apiBaseURL %q is not an absolute url", cfg.APIBaseURL)
	}
	if cfg.PollInterval <= 0 {
		return errors.New("config: pollInterval must be > 0")
	}
	if cfg.ConfirmDelay < 0 {
		return errors.New("config: confirmDelay must be >= 0")
	}
	switch cfg.SessionBackend {
	case "file":
		if strings.TrimSpace(cfg.SessionPath) == "" {
			return errors.New("config: sessionPath is required for the file session backend")
		}
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis session backend")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown sessionBackend %q (file, redis, memory)", cfg.SessionBackend)
	}
	switch cfg.LedgerDriver {
	case "none":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.LedgerDSN) == "" {
			return fmt.Errorf("config: ledgerDSN is required for the %s ledger", cfg.LedgerDriver)
		}
	default:
		return fmt.Errorf("config: unknown ledgerDriver %q (sqlite, postgres, none)", cfg.LedgerDriver)
	}
	if (cfg.WebhookUsername == "") != (cfg.WebhookPassword == "") {
		return errors.New("config: webhookUsername and webhookPassword must be set together")
	}
	return nil
}
