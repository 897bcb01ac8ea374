package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mahaj/pulse-chat/pkg/snowflake"
)

const (
	DriverMemory = "memory"
	DriverScylla = "scylla"
)

type RateLimit struct {
	MaxMessages int           `yaml:"max_messages"`
	Window      time.Duration `yaml:"window"`
}

type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	StoreDriver    string        `yaml:"store_driver"`
	ScyllaHosts    []string      `yaml:"scylla_hosts"`
	Keyspace       string        `yaml:"keyspace"`
	RedisAddr      string        `yaml:"redis_addr"`
	KafkaBrokers   []string      `yaml:"kafka_brokers"`
	JournalTopic   string        `yaml:"journal_topic"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	TypingTTL      time.Duration `yaml:"typing_ttl"`
	OTPTTL         time.Duration `yaml:"otp_ttl"`
	MediaDir       string        `yaml:"media_dir"`
	MediaBaseURL   string        `yaml:"media_base_url"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SnowflakeNode  int64         `yaml:"snowflake_node"`
	LogLevel       string        `yaml:"log_level"`
	Development    bool          `yaml:"development"`
}

func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		JWTSecret:      "my_secret_key",
		TokenTTL:       365 * 24 * time.Hour,
		StoreDriver:    DriverMemory,
		ScyllaHosts:    []string{"localhost:9042"},
		Keyspace:       "chat",
		JournalTopic:   "chat-journal",
		RateLimit:      RateLimit{MaxMessages: 7, Window: 10 * time.Second},
		TypingTTL:      4 * time.Second,
		OTPTTL:         5 * time.Minute,
		MediaDir:       "media",
		MediaBaseURL:   "/media",
		AllowedOrigins: []string{"http://localhost:5173"},
		SnowflakeNode:  1,
		LogLevel:       "info",
	}
}

// Load layers .env, the YAML file named by CHAT_CONFIG and the process
// environment on top of Default, in that order.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	cfg := Default()
	if path := os.Getenv("CHAT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.StoreDriver = getenv("STORE_DRIVER", cfg.StoreDriver)
	cfg.ScyllaHosts = getenvList("SCYLLA_HOSTS", cfg.ScyllaHosts)
	cfg.Keyspace = getenv("SCYLLA_KEYSPACE", cfg.Keyspace)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.KafkaBrokers = getenvList("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.JournalTopic = getenv("JOURNAL_TOPIC", cfg.JournalTopic)
	cfg.MediaDir = getenv("MEDIA_DIR", cfg.MediaDir)
	cfg.MediaBaseURL = getenv("MEDIA_BASE_URL", cfg.MediaBaseURL)
	cfg.AllowedOrigins = getenvList("FRONTEND_URL", cfg.AllowedOrigins)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.TokenTTL, err = getenvDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return err
	}
	if cfg.RateLimit.Window, err = getenvDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window); err != nil {
		return err
	}
	if cfg.TypingTTL, err = getenvDuration("TYPING_TTL", cfg.TypingTTL); err != nil {
		return err
	}
	if cfg.OTPTTL, err = getenvDuration("OTP_TTL", cfg.OTPTTL); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		if cfg.RateLimit.MaxMessages, err = strconv.Atoi(v); err != nil {
			return errors.Wrap(err, "RATE_LIMIT_MAX")
		}
	}
	if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
		if cfg.SnowflakeNode, err = strconv.ParseInt(v, 10, 64); err != nil {
			return errors.Wrap(err, "SNOWFLAKE_NODE")
		}
	}
	if v := os.Getenv("DEVELOPMENT"); v != "" {
		if cfg.Development, err = strconv.ParseBool(v); err != nil {
			return errors.Wrap(err, "DEVELOPMENT")
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverScylla:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.RateLimit.MaxMessages <= 0 {
		return fmt.Errorf("config: rate limit max must be positive, got %d", c.RateLimit.MaxMessages)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("config: typing ttl must be positive, got %s", c.TypingTTL)
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > snowflake.NodeMax {
		return snowflake.ErrInvalidNode
	}
	if c.JWTSecret == "" {
		return errors.New("config: jwt secret is required")
	}
	if c.StoreDriver == DriverScylla && len(c.ScyllaHosts) == 0 {
		return errors.New("config: scylla driver needs SCYLLA_HOSTS")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrap(err, key)
	}
	return d, nil
}
