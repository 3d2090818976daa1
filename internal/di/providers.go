package di

import (
	"context"
	"fmt"
	"time"

	"LighthouseMacro/internal/domain/repository"
	internalrepo "LighthouseMacro/internal/repository"
	"LighthouseMacro/internal/service/sources"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/cache"
	pkgch "LighthouseMacro/pkg/clickhouse"
	"LighthouseMacro/pkg/config"
	pkgkafka "LighthouseMacro/pkg/kafka"
	applogger "LighthouseMacro/pkg/logger"
	"LighthouseMacro/pkg/metrics"
	"LighthouseMacro/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideCredentials reads the provider secrets file.
func ProvideCredentials(cfg *config.Config) (config.Credentials, error) {
	return config.LoadSecrets(cfg.SecretsFile)
}

// ProvideRecorder creates the Prometheus recorder on its own registry.
func ProvideRecorder() *metrics.Recorder {
	return metrics.New()
}

func ProvideMetrics(r *metrics.Recorder) repository.Metrics {
	return r
}

// ProvideRawStore opens the SQLite raw store.
func ProvideRawStore(cfg *config.Config, l *applogger.Logger) (repository.RawStore, func(), error) {
	store, err := internalrepo.NewSQLiteStore(cfg.Store.Path, cfg.Store.BusyTimeout, l)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			l.Warn("raw store close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideCache builds the response cache and lock backend.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	var svc cache.Service
	switch cfg.Cache.Backend {
	case "redis", "layered":
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Cache.Redis.Addr),
			cache.WithRedisPassword(cfg.Cache.Redis.Password),
			cache.WithRedisDB(cfg.Cache.Redis.DB),
			cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		svc = rc
		if cfg.Cache.Backend == "layered" {
			svc = cache.NewLayeredCache(rc, time.Minute)
		}
	default:
		svc = cache.NewMemoryCache()
	}
	return svc, func() { _ = svc.Close() }, nil
}

// ProvideRegistry builds one adapter per enabled provider.
func ProvideRegistry(cfg *config.Config, creds config.Credentials, c cache.Service, l *applogger.Logger) *sources.Registry {
	return sources.NewRegistry(cfg.Providers, creds, sources.RegistryOptions{
		Cache:          c,
		CacheTTL:       cfg.Cache.ResponseTTL,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		Logger:         l,
	})
}

func ProvideOrchestrator(
	cfg *config.Config,
	reg *sources.Registry,
	store repository.RawStore,
	locks cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(reg, store, usecase.FetchPolicy{
		FanOut:                   cfg.Fetch.FanOut,
		ReconciliationWindowDays: cfg.Fetch.ReconciliationWindowDays,
		BackfillYears:            cfg.Fetch.BackfillYears,
		MaxRetries:               cfg.Fetch.MaxRetries,
		BaseBackoff:              cfg.Fetch.BaseBackoff,
		LockTTL:                  cfg.Fetch.LockTTL,
	}, l, usecase.WithLocker(locks), usecase.WithMetrics(m))
}

// ProvideRunContext loads the catalogs and bundles what every command needs.
func ProvideRunContext(
	cfg *config.Config,
	creds config.Credentials,
	store repository.RawStore,
	m repository.Metrics,
	l *applogger.Logger,
) (*usecase.RunContext, error) {
	series, catalog, err := usecase.LoadCatalogs(cfg.Catalog.Series, cfg.Catalog.Composites)
	if err != nil {
		return nil, err
	}
	return &usecase.RunContext{
		Config:      cfg,
		Credentials: creds,
		Series:      series,
		Catalog:     catalog,
		Store:       store,
		Metrics:     m,
		Logger:      l,
	}, nil
}

// ProvideSinks returns the indicator sinks in write order. The CSV sink goes
// last so its run.json lists every other output.
func ProvideSinks(cfg *config.Config, l *applogger.Logger) ([]repository.IndicatorSink, func(), error) {
	var (
		sinks   []repository.IndicatorSink
		cleanup = func() {}
	)
	if cfg.ClickHouse.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		sink := internalrepo.NewClickHouseSink(client, cfg.ClickHouse.Table, l)
		if err := client.InitSchema(ctx, sink.Schema()); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		sinks = append(sinks, sink)
		cleanup = func() {
			if err := client.Close(); err != nil {
				l.Warn("clickhouse close error", applogger.Error(err))
			}
		}
	}
	sinks = append(sinks, internalrepo.NewCSVSink(cfg.Output.Dir, l))
	return sinks, cleanup, nil
}

// ProvidePublisher returns the Kafka run publisher, or nil when disabled.
func ProvidePublisher(cfg *config.Config, rec *metrics.Recorder, l *applogger.Logger) (repository.RunPublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithMetrics(rec.Registry()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.RunTopic, cfg.Kafka.RevisionTopic)
	cleanup := func() {
		if err := pub.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return pub, cleanup, nil
}

// ProvidePush pushes the recorder to the configured Pushgateway.
func ProvidePush(cfg *config.Config, rec *metrics.Recorder) usecase.PushFunc {
	if cfg.Metrics.PushgatewayURL == "" {
		return nil
	}
	return func(ctx context.Context) error {
		return rec.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	}
}

func ProvideDriver(
	rc *usecase.RunContext,
	orch *usecase.Orchestrator,
	sinks []repository.IndicatorSink,
	pub repository.RunPublisher,
	push usecase.PushFunc,
) *usecase.Driver {
	opts := []usecase.DriverOption{usecase.WithSinks(sinks...), usecase.WithPush(push)}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	return usecase.NewDriver(rc, orch, opts...)
}

// ProvideApp creates the application shell used by every command.
func ProvideApp(cfg *config.Config, driver *usecase.Driver, rec *metrics.Recorder, l *applogger.Logger) *server.App {
	return server.New(cfg, driver, rec.Registry(), l)
}
