package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides, e.g. OMS_DB__HOST.
const EnvPrefix = "OMS_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogFile  string `koanf:"log_file"`
		LogLevel string `koanf:"log_level"`
	} `koanf:"app"`

	Seed struct {
		Enabled       bool   `koanf:"enabled"`
		AdminEmail    string `koanf:"admin_email"`
		AdminPassword string `koanf:"admin_password"`
	} `koanf:"seed"`

	DB struct {
		Host            string        `koanf:"host"`
		Port            string        `koanf:"port"`
		User            string        `koanf:"user"`
		Password        string        `koanf:"password"`
		Name            string        `koanf:"name"`
		Schema          string        `koanf:"schema"`
		SSLMode         string        `koanf:"sslmode"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"db"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL           time.Duration `koanf:"ttl"`
		SweepInterval time.Duration `koanf:"sweep_interval"`
	} `koanf:"idempotency"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		TTL       time.Duration `koanf:"ttl"`
	} `koanf:"security"`

	Kafka struct {
		Brokers     []string `koanf:"brokers"`
		TopicPrefix string   `koanf:"topic_prefix"`
	} `koanf:"kafka"`

	Outbox struct {
		Interval time.Duration `koanf:"interval"`
		Batch    int           `koanf:"batch"`
	} `koanf:"outbox"`
}

var defaults = map[string]any{
	"app.name":                   "mini-oms",
	"app.env":                    "development",
	"app.http_addr":              ":8080",
	"app.log_level":              "info",
	"db.host":                    "localhost",
	"db.port":                    "5432",
	"db.user":                    "postgres",
	"db.password":                "postgres",
	"db.name":                    "mini_oms",
	"db.schema":                  "public",
	"db.sslmode":                 "disable",
	"db.max_open_conns":          16,
	"db.max_idle_conns":          16,
	"db.conn_max_lifetime":       "30m",
	"idempotency.ttl":            "24h",
	"idempotency.sweep_interval": "10m",
	"security.issuer":            "mini-oms",
	"security.ttl":               "24h",
	"kafka.topic_prefix":         "oms.",
	"outbox.interval":            "2s",
	"outbox.batch":               100,
}

// Load layers defaults, <dir>/base.yaml, <dir>/<envName>.yaml and OMS_*
// environment variables, in that order. A .env file in the working directory
// is loaded into the environment first when present.
func Load(dir, envName string) (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return Config{}, fmt.Errorf("load defaults: %w", err)
		}
	}
	if dir != "" {
		base := filepath.Join(dir, "base.yaml")
		if _, err := os.Stat(base); err == nil {
			if err := k.Load(file.Provider(base), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load base: %w", err)
			}
		}
		if envName != "" {
			// optional per-environment override
			_ = k.Load(file.Provider(filepath.Join(dir, envName+".yaml")), yaml.Parser())
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.DB.Host == "" || c.DB.Name == "" {
		return fmt.Errorf("db.host and db.name required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}
	return nil
}

func (c Config) IsDevelopment() bool { return c.App.Env == "development" }

// DSN is the pgx connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&search_path=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode, c.DB.Schema,
	)
}
