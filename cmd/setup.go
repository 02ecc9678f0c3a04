package main

import (
	"crypto/rsa"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	slogGorm "github.com/orandin/slog-gorm"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/fedclient"
	"github.com/concrnt/ccworld-migration/importer"
	"github.com/concrnt/ccworld-migration/migration"
	"github.com/concrnt/ccworld-migration/receive"
	"github.com/concrnt/ccworld-migration/service"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/validator"
	"github.com/concrnt/ccworld-migration/worker"
)

// deps is everything the commands share.
type deps struct {
	config     Config
	logger     *slog.Logger
	podKey     *rsa.PrivateKey
	sqlDB      *sql.DB
	rdb        *redis.Client
	store      *store.Store
	client     *fedclient.Client
	receiver   *receive.Service
	queue      *worker.RedisQueue
	dispatcher *worker.Dispatcher
	service    *service.Service

	closers []func()
}

func setup(c *cli.Context) (*deps, error) {
	config, err := loadConfig(configPaths(c.String("config")))
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(config.Server.LogLevel)); err != nil {
		return nil, errors.Wrap(err, "bad server.logLevel")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	d := &deps{config: config, logger: logger}

	d.podKey, err = entities.ParsePrivateKey(config.Pod.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pod private key")
	}

	if config.Server.EnableTrace {
		cleanup, err := setupTraceProvider(config.Server.TraceEndpoint, "ccmigrate", version)
		if err != nil {
			return nil, errors.Wrap(err, "failed to setup tracing")
		}
		d.closers = append(d.closers, cleanup)
	}

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{
		Logger: slogGorm.New(
			slogGorm.WithLogger(logger.With("component", "gorm")),
			slogGorm.WithSlowThreshold(300*time.Millisecond),
		),
		TranslateError: true,
	})
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to connect database")
	}
	d.sqlDB, err = db.DB()
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to connect database")
	}
	d.closers = append(d.closers, func() { d.sqlDB.Close() })

	if err := db.Use(tracing.NewPlugin(tracing.WithDBName("postgres"))); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to setup tracing plugin")
	}

	d.store = store.NewStore(db)
	logger.Info("start migrate")
	if err := d.store.Migrate(c.Context); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	var mc *memcache.Client
	if config.Server.MemcachedAddr != "" {
		mc = memcache.New(config.Server.MemcachedAddr)
		d.closers = append(d.closers, func() { mc.Close() })
	}

	d.rdb = redis.NewClient(&redis.Options{
		Addr: config.Server.RedisAddr,
		DB:   config.Server.RedisDB,
	})
	d.closers = append(d.closers, func() { d.rdb.Close() })
	err = redisotel.InstrumentTracing(
		d.rdb,
		redisotel.WithAttributes(
			attribute.KeyValue{
				Key:   "db.name",
				Value: attribute.StringValue("redis"),
			},
		),
	)
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to setup redis tracing")
	}

	fedclient.UserAgent = "CcWorldMigration/" + version
	d.client = fedclient.NewClient(mc, config.Pod, config.Federation, d.podKey, logger)
	d.receiver = receive.NewService(d.store, d.client, d.client, logger)
	d.queue = worker.NewRedisQueue(d.rdb)
	d.dispatcher = worker.NewDispatcher(d.queue, logger)

	engine := migration.NewEngine(d.store, d.receiver, d.dispatcher, logger)
	d.receiver.SetMigrationHandler(engine)

	d.service = service.NewService(
		d.store,
		validator.NewPipeline(d.store, d.client, d.client, logger),
		importer.NewImporter(d.store, d.receiver, config.Pod, logger),
		engine,
		logger,
	)

	return d, nil
}

// Close releases everything in reverse order of acquisition.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
