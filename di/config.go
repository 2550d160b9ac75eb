package di

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheStore  = "store"
)

// EnvPrefix prefixes environment overrides: TENDRIL_STORE_BACKEND, ...
const EnvPrefix = "TENDRIL"

// Config is the application configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Create CreateConfig `mapstructure:"create"`

	// LogLevel is one of debug, info, warn, error. Default: "info"
	LogLevel string `mapstructure:"log_level"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	// Backend is one of memory, redis, sqlite, dynamodb. Default: "redis"
	Backend string `mapstructure:"backend"`

	// ResolveDepth is the default reference resolution depth. Default: 1
	ResolveDepth int `mapstructure:"resolve_depth"`

	// Concurrency bounds parallel reads. Default: 8
	Concurrency int `mapstructure:"concurrency"`

	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`

	// KeyspaceEvents enables expired-key notifications on the server and
	// purges expired entities as they are reported.
	KeyspaceEvents bool `mapstructure:"keyspace_events"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DynamoDBConfig struct {
	Region string `mapstructure:"region"`

	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string `mapstructure:"endpoint"`
	Table    string `mapstructure:"table"`

	// CreateTable creates the table on startup when missing.
	CreateTable bool `mapstructure:"create_table"`
}

// CacheConfig configures the OrderService cache.
type CacheConfig struct {
	// Backend is memory (in process) or store (the key-value backend). Default: "memory"
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
	// RefreshAfter reloads memory cache entries in the background once they
	// are this old. Zero disables it. Default: 0
	RefreshAfter time.Duration `mapstructure:"refresh_after"`
}

// CreateConfig gates the startup runners.
type CreateConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:      BackendRedis,
			ResolveDepth: 1,
			Concurrency:  8,
			Redis: RedisConfig{
				Host:       "localhost",
				Port:       6379,
				MaxRetries: 3,
			},
			SQLite:   SQLiteConfig{Path: "tendril.db"},
			DynamoDB: DynamoDBConfig{Region: "us-east-1", Table: "tendril"},
		},
		Cache: CacheConfig{
			Backend:  CacheMemory,
			TTL:      10 * time.Minute,
			Capacity: 10000,
		},
		Create:   CreateConfig{Enabled: true},
		LogLevel: "info",
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Store),
		validation.Field(&c.Cache),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend,
			validation.Required,
			validation.In(BackendMemory, BackendRedis, BackendSQLite, BackendDynamoDB),
		),
		validation.Field(&c.ResolveDepth, validation.Min(0)),
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(256)),
		validation.Field(&c.Redis, validation.Skip.When(c.Backend != BackendRedis)),
		validation.Field(&c.SQLite, validation.Skip.When(c.Backend != BackendSQLite)),
		validation.Field(&c.DynamoDB, validation.Skip.When(c.Backend != BackendDynamoDB)),
	)
}

func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.MaxRetries, validation.Min(-1)),
	)
}

func (c SQLiteConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
	)
}

func (c DynamoDBConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Table, validation.Required, validation.Length(3, 255)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheMemory, CacheStore)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Capacity, validation.When(c.Backend == CacheMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.RefreshAfter, validation.Min(time.Duration(0)), validation.Max(c.TTL).Exclusive()),
	)
}

// LoadConfig reads tendril.yaml (or the file at path when set) and TENDRIL_*
// environment variables over DefaultConfig. A missing default file is not an
// error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tendril")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("create.enabled", c.Create.Enabled)

	v.SetDefault("store.backend", c.Store.Backend)
	v.SetDefault("store.resolve_depth", c.Store.ResolveDepth)
	v.SetDefault("store.concurrency", c.Store.Concurrency)
	v.SetDefault("store.redis.host", c.Store.Redis.Host)
	v.SetDefault("store.redis.port", c.Store.Redis.Port)
	v.SetDefault("store.redis.password", c.Store.Redis.Password)
	v.SetDefault("store.redis.db", c.Store.Redis.DB)
	v.SetDefault("store.redis.max_retries", c.Store.Redis.MaxRetries)
	v.SetDefault("store.redis.keyspace_events", c.Store.Redis.KeyspaceEvents)
	v.SetDefault("store.sqlite.path", c.Store.SQLite.Path)
	v.SetDefault("store.dynamodb.region", c.Store.DynamoDB.Region)
	v.SetDefault("store.dynamodb.endpoint", c.Store.DynamoDB.Endpoint)
	v.SetDefault("store.dynamodb.table", c.Store.DynamoDB.Table)
	v.SetDefault("store.dynamodb.create_table", c.Store.DynamoDB.CreateTable)

	v.SetDefault("cache.backend", c.Cache.Backend)
	v.SetDefault("cache.ttl", c.Cache.TTL)
	v.SetDefault("cache.capacity", c.Cache.Capacity)
	v.SetDefault("cache.refresh_after", c.Cache.RefreshAfter)
}
