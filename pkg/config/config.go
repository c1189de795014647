// Package config loads the geocoder configuration from a YAML file with
// PHOTON_* environment-variable overrides. Every subsystem (HTTP server,
// Nominatim database, search index, update service, cache, change events)
// gets its own typed section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Import   ImportConfig   `yaml:"import"`
	Update   UpdateConfig   `yaml:"update"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigin      string        `yaml:"corsOrigin"`
	// RateLimit is the number of requests per minute and client, 0 for
	// no limit.
	RateLimit int `yaml:"rateLimit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig holds the Nominatim database connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Database, p.SSLMode,
	)
	if p.Password != "" {
		dsn += " password=" + p.Password
	}
	return dsn
}

// IndexConfig controls where the search index lives and how it is written.
type IndexConfig struct {
	DataDir   string `yaml:"dataDir"`
	BatchSize int    `yaml:"batchSize"`
}

// SearchConfig controls query parsing limits and timeouts.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxResults      int           `yaml:"maxResults"`
	MaxReverse      int           `yaml:"maxReverseResults"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	DefaultLanguage string        `yaml:"defaultLanguage"`
}

// ImportConfig describes what a Nominatim import reads and keeps.
type ImportConfig struct {
	Languages        []string `yaml:"languages"`
	Countries        []string `yaml:"countries"`
	ExtraTags        []string `yaml:"extraTags"`
	ImportGeometries bool     `yaml:"importGeometries"`
	Threads          int      `yaml:"threads"`
}

// UpdateConfig controls the Nominatim update service.
type UpdateConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	ImportUser string        `yaml:"importUser"`
	MaxRetries int           `yaml:"maxRetries"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PlaceChanges string `yaml:"placeChanges"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            2322,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "nominatim",
			User:            "nominatim",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Index: IndexConfig{
			DataDir:   "./photon_data",
			BatchSize: 10000,
		},
		Search: SearchConfig{
			DefaultLimit:    15,
			MaxResults:      50,
			MaxReverse:      50,
			QueryTimeout:    7 * time.Second,
			DefaultLanguage: "default",
		},
		Import: ImportConfig{
			Languages: []string{"en", "de", "fr", "it"},
			Threads:   4,
		},
		Update: UpdateConfig{
			Interval:   time.Hour,
			ImportUser: "nominatim",
			MaxRetries: 3,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "photon-group",
			Topics: KafkaTopics{
				PlaceChanges: "photon.place-changes",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func (c *Config) validate() error {
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.maxResults must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit must be between 1 and %d, got %d",
			c.Search.MaxResults, c.Search.DefaultLimit)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("index.batchSize must be positive, got %d", c.Index.BatchSize)
	}
	return nil
}

// applyEnvOverrides reads PHOTON_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setList := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			*dst = splitList(v)
		}
	}

	setString("PHOTON_SERVER_HOST", &cfg.Server.Host)
	setInt("PHOTON_SERVER_PORT", &cfg.Server.Port)
	setString("PHOTON_CORS_ORIGIN", &cfg.Server.CORSOrigin)
	setInt("PHOTON_RATE_LIMIT", &cfg.Server.RateLimit)

	setString("PHOTON_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("PHOTON_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("PHOTON_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("PHOTON_POSTGRES_USER", &cfg.Postgres.User)
	setString("PHOTON_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("PHOTON_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	setString("PHOTON_DATA_DIR", &cfg.Index.DataDir)
	setInt("PHOTON_MAX_RESULTS", &cfg.Search.MaxResults)
	setString("PHOTON_DEFAULT_LANGUAGE", &cfg.Search.DefaultLanguage)
	setList("PHOTON_LANGUAGES", &cfg.Import.Languages)
	setList("PHOTON_COUNTRIES", &cfg.Import.Countries)
	setList("PHOTON_EXTRA_TAGS", &cfg.Import.ExtraTags)

	setBool("PHOTON_UPDATE_ENABLED", &cfg.Update.Enabled)
	setString("PHOTON_UPDATE_USER", &cfg.Update.ImportUser)

	setBool("PHOTON_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	setList("PHOTON_KAFKA_BROKERS", &cfg.Kafka.Brokers)

	setBool("PHOTON_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("PHOTON_REDIS_ADDR", &cfg.Redis.Addr)
	setString("PHOTON_REDIS_PASSWORD", &cfg.Redis.Password)

	setString("PHOTON_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("PHOTON_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("PHOTON_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("PHOTON_METRICS_PORT", &cfg.Metrics.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
