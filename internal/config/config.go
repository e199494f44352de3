// Package config loads the doccache-sweeper service configuration.
//
// Values are layered from lowest to highest priority:
//  1. Defaults (Default)
//  2. An optional YAML file
//  3. DOCCACHE_* environment variables
//
// The result is validated with struct tags before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names a document store implementation.
type Backend string

const (
	BackendCouchDB  Backend = "couchdb"
	BackendRedis    Backend = "redis"
	BackendSQLite   Backend = "sqlite"
	BackendDynamoDB Backend = "dynamodb"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DOCCACHE_"

// Config is the service configuration.
type Config struct {
	Backend     Backend `yaml:"backend" validate:"required,oneof=couchdb redis sqlite dynamodb"`
	Namespace   string  `yaml:"namespace" validate:"required,max=64"`
	Concurrency string  `yaml:"concurrency" validate:"oneof=last_writer_wins revision_checked"`

	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogPretty  bool   `yaml:"log_pretty"`

	SweepInterval    time.Duration `yaml:"sweep_interval" validate:"min=1s"`
	SweepTimeout     time.Duration `yaml:"sweep_timeout" validate:"gte=0"`
	ClearConcurrency int           `yaml:"clear_concurrency" validate:"gte=1,lte=64"`
	AllowClear       bool          `yaml:"allow_clear"`

	// Only the section of the selected backend is validated.
	CouchDB  CouchDBConfig  `yaml:"couchdb" validate:"-"`
	Redis    RedisConfig    `yaml:"redis" validate:"-"`
	SQLite   SQLiteConfig   `yaml:"sqlite" validate:"-"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" validate:"-"`
}

// CouchDBConfig configures the CouchDB backend.
type CouchDBConfig struct {
	URL      string        `yaml:"url" validate:"required,url"`
	Database string        `yaml:"database" validate:"required"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Auth     string        `yaml:"auth" validate:"oneof=basic cookie"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" validate:"required,hostname_port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0,lte=15"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Table    string `yaml:"table" validate:"required"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Backend:          BackendCouchDB,
		Namespace:        "doccache",
		Concurrency:      "last_writer_wins",
		ListenAddr:       ":8080",
		LogLevel:         "info",
		SweepInterval:    time.Minute,
		ClearConcurrency: 8,
		CouchDB: CouchDBConfig{
			URL:      "http://localhost:5984",
			Database: "doccache",
			Auth:     "basic",
			Timeout:  30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "docstore:",
		},
		SQLite: SQLiteConfig{
			Path: "doccache.db",
		},
	}
}

var validate = validator.New()

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and the section of the selected backend.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	var section any
	switch c.Backend {
	case BackendCouchDB:
		section = &c.CouchDB
	case BackendRedis:
		section = &c.Redis
	case BackendSQLite:
		section = &c.SQLite
	case BackendDynamoDB:
		section = &c.DynamoDB
	}
	if err := validate.Struct(section); err != nil {
		return fmt.Errorf("%s: %w", c.Backend, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// applyEnv overlays DOCCACHE_* variables. Malformed values are collected and
// returned together.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		c.Backend = Backend(strings.ToLower(v))
	}
	str("NAMESPACE", &c.Namespace)
	str("CONCURRENCY", &c.Concurrency)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_PRETTY", &c.LogPretty)
	duration("SWEEP_INTERVAL", &c.SweepInterval)
	duration("SWEEP_TIMEOUT", &c.SweepTimeout)
	integer("CLEAR_CONCURRENCY", &c.ClearConcurrency)
	boolean("ALLOW_CLEAR", &c.AllowClear)

	str("COUCHDB_URL", &c.CouchDB.URL)
	str("COUCHDB_DATABASE", &c.CouchDB.Database)
	str("COUCHDB_USERNAME", &c.CouchDB.Username)
	str("COUCHDB_PASSWORD", &c.CouchDB.Password)
	str("COUCHDB_AUTH", &c.CouchDB.Auth)
	duration("COUCHDB_TIMEOUT", &c.CouchDB.Timeout)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)
	str("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)

	str("SQLITE_PATH", &c.SQLite.Path)

	str("DYNAMODB_TABLE", &c.DynamoDB.Table)
	str("DYNAMODB_REGION", &c.DynamoDB.Region)
	str("DYNAMODB_ENDPOINT", &c.DynamoDB.Endpoint)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}
