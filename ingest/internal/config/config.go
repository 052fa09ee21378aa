package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Import     ImportConfig     `mapstructure:"import"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the repository. An empty URL keeps all state in
// process memory.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MigrationsPath string `mapstructure:"migrations_path"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL               string        `mapstructure:"url"`
	Enabled           bool          `mapstructure:"enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type OpenSearchConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	Index         string `mapstructure:"index"`
}

type WebhookConfig struct {
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	SecretHeader    string `mapstructure:"secret_header"`
	SignatureHeader string `mapstructure:"signature_header"`
	// Secrets maps a webhook source to its shared secret. A source with no
	// secret rejects every delivery.
	Secrets        map[string]string `mapstructure:"secrets"`
	AllowedHeaders []string          `mapstructure:"allowed_headers"`
}

type DispatchConfig struct {
	Mode       string `mapstructure:"mode"`
	MaxDeliver int    `mapstructure:"max_deliver"`
}

type ImportConfig struct {
	MaxRows         int           `mapstructure:"max_rows"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	JobLease        time.Duration `mapstructure:"job_lease"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	DownloadRetries int           `mapstructure:"download_retries"`
	MaxFileBytes    int64         `mapstructure:"max_file_bytes"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type DLQConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.rate_limit_requests", 600)
	v.SetDefault("redis.rate_limit_window", "1m")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index", "leadme-leads")

	v.SetDefault("webhook.max_body_bytes", 3<<20)
	v.SetDefault("webhook.secret_header", "X-Webhook-Secret")
	v.SetDefault("webhook.signature_header", "X-Webhook-Signature")
	// declared so LEADME_WEBHOOK_SECRETS_* env vars bind
	v.SetDefault("webhook.secrets.pixel", "")
	v.SetDefault("webhook.secrets.mailer", "")
	v.SetDefault("webhook.allowed_headers", []string{
		"Content-Type", "User-Agent", "X-Request-Id", "X-Pixel-Id",
		"X-Forwarded-For", "X-Webhook-Id", "X-Webhook-Timestamp",
	})

	v.SetDefault("dispatch.mode", "inline")
	v.SetDefault("dispatch.max_deliver", 5)

	v.SetDefault("import.max_rows", 50000)
	v.SetDefault("import.batch_size", 100)
	v.SetDefault("import.concurrency", 8)
	v.SetDefault("import.batch_timeout", "60s")
	v.SetDefault("import.job_lease", "5m")
	v.SetDefault("import.download_timeout", "30s")
	v.SetDefault("import.download_retries", 3)
	v.SetDefault("import.max_file_bytes", 100<<20)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "leadme")

	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.path", "/var/lib/leadme/dlq")

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Loader owns the viper instance so the config file can be watched after
// the first load.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader reads configPath (or ./config.yaml, /etc/leadme/ingest/config.yaml)
// and the LEADME_* environment.
func NewLoader(configPath string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/leadme/ingest")
	}

	v.SetEnvPrefix("LEADME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return &Loader{v: v}, nil
}

// Load reads and validates the configuration once.
func Load(configPath string) (*Config, error) {
	l, err := NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// Config unmarshals the current settings.
func (l *Loader) Config() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the reloaded configuration whenever the config
// file is written. Reloads that fail validation are logged and skipped.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Config()
		if err != nil {
			slog.Error("config reload rejected", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		slog.Info("config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Dispatch.Mode {
	case "inline":
	case "queued":
		if !c.NATS.Enabled {
			errs = append(errs, errors.New("dispatch.mode=queued requires nats.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("dispatch.mode must be inline or queued, got %q", c.Dispatch.Mode))
	}
	switch c.DLQ.Backend {
	case "file", "none":
	case "jetstream":
		if !c.NATS.Enabled {
			errs = append(errs, errors.New("dlq.backend=jetstream requires nats.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("dlq.backend must be file, jetstream or none, got %q", c.DLQ.Backend))
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("webhook.max_body_bytes must be positive"))
	}
	if c.Import.MaxRows <= 0 || c.Import.BatchSize <= 0 || c.Import.Concurrency <= 0 {
		errs = append(errs, errors.New("import.max_rows, import.batch_size and import.concurrency must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
