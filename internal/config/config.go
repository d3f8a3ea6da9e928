package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config keeps runtime settings for the service.
type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Database   `yaml:"database"`
	Tokens     `yaml:"tokens"`
	Security   `yaml:"security"`
	Reminders  `yaml:"reminders"`
	Telegram   `yaml:"telegram"`
	SMTP       `yaml:"smtp"`

	// GeneratedSecret is set when no signing secret was configured and a
	// random one was created for this process.
	GeneratedSecret bool `yaml:"-"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8000"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
}

type Database struct {
	Driver          string        `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL" env-default:"task_tracker.db"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" env-default:"15m"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"DB_QUERY_TIMEOUT" env-default:"5s"`
}

type Tokens struct {
	Secret        string        `yaml:"secret" env:"JWT_SECRET"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"task-tracker"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL" env-default:"5m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"24h"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"JWT_PURGE_INTERVAL" env-default:"1h"`
}

type Security struct {
	BcryptCost       int     `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	RateLimitEnabled bool    `yaml:"rate_limit_enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS" env-default:"2"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" env-default:"4"`
}

type Reminders struct {
	Enabled  bool          `yaml:"enabled" env:"REMINDERS_ENABLED" env-default:"true"`
	Interval time.Duration `yaml:"interval" env:"REMINDERS_INTERVAL" env-default:"5h"`

	// DigestTime, as HH:MM, sends digests once a day instead of every Interval.
	DigestTime string `yaml:"digest_time" env:"REMINDERS_DIGEST_TIME"`
}

type Telegram struct {
	Token string `yaml:"token" env:"TELEGRAM_TOKEN"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"25"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	Sender   string `yaml:"sender" env:"SMTP_SENDER"`
}

// Load reads configuration from the YAML file at path, with environment
// overrides. An empty path reads the environment only.
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// MustLoad is Load for callers that cannot continue without configuration.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) normalize() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q, expected local, dev or prod", c.Env)
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.Tokens.AccessTTL > c.Tokens.RefreshTTL {
		return fmt.Errorf("access ttl %s exceeds refresh ttl %s", c.Tokens.AccessTTL, c.Tokens.RefreshTTL)
	}

	if strings.TrimSpace(c.Tokens.Secret) == "" {
		if c.Env == EnvProd {
			return fmt.Errorf("JWT_SECRET is required in prod")
		}
		secret, err := randomSecret(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		c.Tokens.Secret = secret
		c.GeneratedSecret = true
	}

	if c.Database.QueryTimeout <= 0 {
		c.Database.QueryTimeout = 5 * time.Second
	}

	return nil
}

// MailEnabled reports whether enough SMTP settings are present to send mail.
func (c Config) MailEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.Sender != ""
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
