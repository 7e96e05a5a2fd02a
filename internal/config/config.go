package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/election-api/internal/email"
	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/messaging/redis"
)

// EnvPrefix is the prefix of environment overrides, e.g. ELECTION_DATABASE_HOST.
const EnvPrefix = "ELECTION"

type Config struct {
	Env       string          `mapstructure:"env" validate:"oneof=development staging production test"`
	Store     string          `mapstructure:"store" validate:"oneof=memory postgres"`
	Broker    string          `mapstructure:"broker" validate:"oneof=memory redis"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Directory DirectoryConfig `mapstructure:"directory"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	// PublicURL is used to build links in notifications.
	PublicURL string `mapstructure:"public_url" split_words:"true"`
}

type WorkerConfig struct {
	HealthPort int `mapstructure:"health_port" split_words:"true" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" split_words:"true"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type SMTPConfig struct {
	// Empty Host logs mail instead of sending it.
	Host               string  `mapstructure:"host"`
	Port               int     `mapstructure:"port"`
	Username           string  `mapstructure:"username"`
	Password           string  `mapstructure:"password"`
	From               string  `mapstructure:"from" validate:"omitempty,email"`
	Domain             string  `mapstructure:"domain"`
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify" split_words:"true"`
	RatePerSecond      float64 `mapstructure:"rate_per_second" split_words:"true"`
	Burst              int     `mapstructure:"burst"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	// AdminRole is the claim value that grants election administration.
	AdminRole string `mapstructure:"admin_role" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Timezone          string        `mapstructure:"timezone"`
	ClosingSoonWindow time.Duration `mapstructure:"closing_soon_window" split_words:"true"`
	Retention         time.Duration `mapstructure:"retention"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1"`
	// Jobs maps job name to cron expression.
	Jobs map[string]string `mapstructure:"jobs"`
}

type DirectoryConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl" split_words:"true"`
	CacheCleanup time.Duration `mapstructure:"cache_cleanup" split_words:"true"`

	// Seeds for the in-memory store; ignored with postgres.
	OpenEnrollment bool            `mapstructure:"open_enrollment" split_words:"true"`
	Users          []DirectoryUser `mapstructure:"users" ignored:"true" validate:"dive"`
}

// DirectoryUser is a list entry rather than a map key so ids keep their case.
type DirectoryUser struct {
	ID        string   `mapstructure:"id" validate:"required"`
	Email     string   `mapstructure:"email" validate:"omitempty,email"`
	Elections []string `mapstructure:"elections"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("store", "memory")
	v.SetDefault("broker", "memory")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("worker.health_port", 8081)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "noreply@election.local")
	v.SetDefault("smtp.domain", "election.local")
	v.SetDefault("smtp.rate_per_second", 10)
	v.SetDefault("smtp.burst", 5)

	v.SetDefault("jwt.admin_role", "admin")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.closing_soon_window", 24*time.Hour)
	v.SetDefault("scheduler.retention", 90*24*time.Hour)
	v.SetDefault("scheduler.concurrency", 16)
	v.SetDefault("scheduler.jobs", map[string]string{
		scheduler.JobClosingSoon:   "0 10 * * *",
		scheduler.JobStartingToday: "0 8 * * *",
		scheduler.JobEndingToday:   "0 9 * * *",
		scheduler.JobCleanup:       "0 3 * * *",
	})

	v.SetDefault("directory.cache_ttl", time.Minute)
	v.SetDefault("directory.cache_cleanup", 5*time.Minute)
	v.SetDefault("directory.open_enrollment", false)
}

// LoadConfig reads config.yml from the usual locations. A missing file is
// not an error; defaults and ELECTION_* variables still apply.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")
	v.AddConfigPath("/app/config")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid config: scheduler timezone: %w", err)
	}
	if c.Store == "postgres" && (c.Database.Name == "" || c.Database.User == "") {
		return fmt.Errorf("invalid config: database name and user are required for the postgres store")
	}
	if c.Broker == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid config: redis url is required for the redis broker")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location returns the scheduler timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.Redis.URL,
		MaxRetries:   c.Redis.MaxRetries,
		RetryBackoff: c.Redis.RetryBackoff,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
}

func (c *Config) ToMailerConfig() email.Config {
	return email.Config{
		Host:               c.SMTP.Host,
		Port:               c.SMTP.Port,
		Username:           c.SMTP.Username,
		Password:           c.SMTP.Password,
		From:               c.SMTP.From,
		Domain:             c.SMTP.Domain,
		InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
		RatePerSecond:      c.SMTP.RatePerSecond,
		Burst:              c.SMTP.Burst,
	}
}

func (c *Config) ToJobsConfig() scheduler.JobsConfig {
	return scheduler.JobsConfig{
		ClosingSoonWindow: c.Scheduler.ClosingSoonWindow,
		Retention:         c.Scheduler.Retention,
		Location:          c.Location(),
		PublicURL:         c.Server.PublicURL,
	}
}
