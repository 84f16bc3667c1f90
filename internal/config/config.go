package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the demo binary.
type Config struct {
	App       AppConfig
	API       APIConfig
	Storage   StorageConfig
	Transport TransportConfig
	Jobs      JobConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

// APIConfig describes the marketing backend.
type APIConfig struct {
	BaseURL string
	APIKey  string
}

// StorageConfig selects the durable stores.
type StorageConfig struct {
	// Driver is "sqlite" or "mysql".
	Driver string
	// DSN is a file path for sqlite and a DSN for mysql.
	DSN string
	// RedisAddr moves the failed-event store to Redis when set.
	RedisAddr string
}

type TransportConfig struct {
	// Kind is "http" or "kafka".
	Kind         string
	HTTPTimeout  time.Duration
	KafkaBrokers []string
	KafkaTopic   string
}

type JobConfig struct {
	SyncInterval     time.Duration
	ResubmitInterval time.Duration
}

// Load reads the environment (and .env if present), applies defaults and validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.API.BaseURL = strings.TrimRight(ldr.getString("EVENTQUEUE_BASE_URL", "", true), "/")
	cfg.API.APIKey = ldr.getString("EVENTQUEUE_API_KEY", "", true)

	cfg.Storage.Driver = ldr.getString("EVENTQUEUE_DB_DRIVER", "sqlite", false)
	cfg.Storage.DSN = ldr.getString("EVENTQUEUE_DB_PATH", "eventqueue.db", false)
	cfg.Storage.RedisAddr = ldr.getString("EVENTQUEUE_REDIS_ADDR", "", false)

	cfg.Transport.Kind = ldr.getString("EVENTQUEUE_TRANSPORT", "http", false)
	cfg.Transport.HTTPTimeout = ldr.getDuration("EVENTQUEUE_HTTP_TIMEOUT", 30*time.Second)
	cfg.Transport.KafkaBrokers = ldr.getStringSlice("EVENTQUEUE_KAFKA_BROKERS")
	cfg.Transport.KafkaTopic = ldr.getString("EVENTQUEUE_KAFKA_TOPIC", "eventqueue-requests", false)

	cfg.Jobs.SyncInterval = ldr.getDuration("EVENTQUEUE_SYNC_INTERVAL", time.Minute)
	cfg.Jobs.ResubmitInterval = ldr.getDuration("EVENTQUEUE_RESUBMIT_INTERVAL", 15*time.Minute)

	switch cfg.Storage.Driver {
	case "sqlite", "mysql":
	default:
		ldr.addError(fmt.Sprintf("EVENTQUEUE_DB_DRIVER must be sqlite or mysql, got %q", cfg.Storage.Driver))
	}
	switch cfg.Transport.Kind {
	case "http":
	case "kafka":
		if len(cfg.Transport.KafkaBrokers) == 0 {
			ldr.addError("EVENTQUEUE_KAFKA_BROKERS is required for the kafka transport")
		}
	default:
		ldr.addError(fmt.Sprintf("EVENTQUEUE_TRANSPORT must be http or kafka, got %q", cfg.Transport.Kind))
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		if val = strings.TrimSpace(val); val != "" {
			return val
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

// getDuration accepts Go duration strings ("90s") or whole seconds ("90").
func (l *envLoader) getDuration(key string, def time.Duration) time.Duration {
	raw := l.getString(key, "", false)
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			l.addError(fmt.Sprintf("%s must be positive", key))
			return def
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		l.addError(fmt.Sprintf("%s must be a positive duration", key))
		return def
	}
	return d
}

func (l *envLoader) getStringSlice(key string) []string {
	raw := l.getString(key, "", false)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
