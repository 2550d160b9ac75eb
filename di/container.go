// Package di wires the application together from a Config.
package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/tendril/cache"
	"github.com/jacentio/tendril/kv"
	"github.com/jacentio/tendril/kv/dynamokv"
	"github.com/jacentio/tendril/kv/memkv"
	"github.com/jacentio/tendril/kv/rediskv"
	"github.com/jacentio/tendril/kv/sqlitekv"
	"github.com/jacentio/tendril/messaging"
	"github.com/jacentio/tendril/model"
	"github.com/jacentio/tendril/repository"
	"github.com/jacentio/tendril/store"
	"github.com/jacentio/tendril/stream"
)

const tableWait = 2 * time.Minute

// Container holds the wired components. Publisher and Listener are nil when
// the backend has no publish/subscribe; Expiry is nil unless Redis keyspace
// events are enabled.
type Container struct {
	Config Config
	Logger *slog.Logger

	KV       kv.Store
	Registry *store.Registry
	Store    *store.Store

	Persons   *repository.PersonRepository
	Orders    *repository.OrderRepository
	LineItems *repository.LineItemRepository

	Cache        cache.CacheService
	OrderService *repository.OrderService

	Publisher *messaging.Publisher
	Listener  *messaging.Listener
	Expiry    *stream.ExpiryListener
}

// Option customises New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	kv         kv.Store
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the store metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithKV uses an already opened backend instead of the configured one.
// The container takes ownership and closes it.
func WithKV(s kv.Store) Option {
	return func(o *options) { o.kv = s }
}

// New validates cfg, opens the backend and builds every component.
func New(ctx context.Context, cfg Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.kv
	if backend == nil {
		var err error
		if backend, err = OpenBackend(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}

	c := &Container{
		Config:   cfg,
		Logger:   o.logger,
		KV:       backend,
		Registry: model.Registry(),
	}

	storeCfg := store.DefaultConfig()
	storeCfg.ResolveDepth = cfg.Store.ResolveDepth
	storeCfg.Concurrency = cfg.Store.Concurrency
	storeCfg.Logger = o.logger.With("component", "store")
	storeCfg.Registerer = o.registerer
	c.Store = store.New(backend, c.Registry, storeCfg)

	c.Persons = repository.NewPersonRepository(c.Store)
	c.Orders = repository.NewOrderRepository(c.Store)
	c.LineItems = repository.NewLineItemRepository(c.Store)

	svc, err := newCache(cfg.Cache, backend, o.logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	c.Cache = svc
	c.OrderService = repository.NewOrderService(c.Orders, svc, nil, o.logger.With("component", "orders"))

	if ps, ok := backend.(kv.PubSub); ok {
		c.Publisher = messaging.NewPublisher(ps, messaging.Channel)
		c.Listener = messaging.NewListener(ps, nil, o.logger.With("component", "chat"), messaging.Channel)

		if r, ok := backend.(*rediskv.Store); ok && cfg.Store.Redis.KeyspaceEvents {
			if err := r.EnableKeyspaceEvents(ctx); err != nil {
				backend.Close()
				return nil, err
			}
			c.Expiry = stream.NewExpiryListener(ps, c.Store, o.logger.With("component", "expiry"), r.DB())
		}
	}

	o.logger.Info("container ready",
		"backend", cfg.Store.Backend,
		"cache", cfg.Cache.Backend,
		"pubsub", c.Publisher != nil,
	)
	return c, nil
}

// Close releases the backend connection.
func (c *Container) Close() error {
	return c.KV.Close()
}

// OpenBackend opens the configured key-value backend and checks connectivity.
func OpenBackend(ctx context.Context, cfg StoreConfig) (kv.Store, error) {
	var (
		s   kv.Store
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		s = memkv.New()
	case BackendRedis:
		s = rediskv.New(rediskv.Config{
			Host:       cfg.Redis.Host,
			Port:       cfg.Redis.Port,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
		})
	case BackendSQLite:
		if s, err = sqlitekv.Open(cfg.SQLite.Path); err != nil {
			return nil, err
		}
	case BackendDynamoDB:
		if s, err = openDynamoDB(ctx, cfg.DynamoDB); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if err := s.Ping(ctx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func openDynamoDB(ctx context.Context, cfg DynamoDBConfig) (*dynamokv.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s := dynamokv.New(client, dynamokv.Config{Table: cfg.Table})
	if cfg.CreateTable {
		if err := s.CreateTable(ctx, tableWait); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newCache(cfg CacheConfig, backend kv.Store, logger *slog.Logger) (cache.CacheService, error) {
	cc := cache.DefaultConfig()
	cc.TTL = cfg.TTL
	cc.RefreshAfter = cfg.RefreshAfter
	cc.RefreshJitter = (cfg.TTL - cfg.RefreshAfter) / 4
	if cfg.Capacity > 0 {
		cc.Capacity = cfg.Capacity
		cc.Shards = min(cc.Shards, cfg.Capacity)
	}

	switch cfg.Backend {
	case CacheStore:
		return cache.NewStoreService(backend, cc, logger.With("component", "cache"))
	default:
		return cache.NewMemoryService(cc)
	}
}
