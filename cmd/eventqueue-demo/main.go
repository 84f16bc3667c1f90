package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/overtonx/eventqueue"
	"github.com/overtonx/eventqueue/internal/config"
	"github.com/overtonx/eventqueue/storage"
	"github.com/overtonx/eventqueue/storage/redisstore"
	"github.com/overtonx/eventqueue/storage/sqlstore"
	"github.com/overtonx/eventqueue/transport/httptransport"
	"github.com/overtonx/eventqueue/transport/kafkatransport"
)

// demoIdentity stands in for the platform identity provider.
type demoIdentity struct {
	deviceID string
}

func (d demoIdentity) DeviceID(context.Context) (string, bool) { return d.deviceID, d.deviceID != "" }

func (d demoIdentity) PushToken(context.Context) (string, error) { return "demo-push-token", nil }

func (d demoIdentity) Reinitialize(context.Context) error { return nil }

type demoProfile struct{}

func (demoProfile) Email() string { return "demo@example.com" }

func (demoProfile) PushEnabled() bool { return true }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.App)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open request store", zap.Error(err))
	}
	defer store.Close()

	var failed storage.FailedEventStore = store
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping redis", zap.Error(err))
		}
		failed = redisstore.NewFailedEventStore(client, redisstore.WithLogger(logger))
	}

	transport, closeTransport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		logger.Fatal("Failed to create transport", zap.Error(err))
	}
	defer closeTransport()

	metrics := eventqueue.NewOpenTelemetryMetricsCollector()
	prefs := eventqueue.NewMemoryPreferences()
	identifier := eventqueue.NewAutoIdentifier(demoProfile{}, prefs, cfg.API.BaseURL+eventqueue.PathIdentify, logger)

	dispatcher, err := eventqueue.NewDispatcher(transport,
		eventqueue.WithDispatcherLogger(logger),
		eventqueue.WithDispatcherMetrics(metrics),
		eventqueue.WithDeviceIdentity(demoIdentity{deviceID: uuid.NewString()}),
		eventqueue.WithAPIKey(cfg.API.APIKey),
		eventqueue.WithAutoIdentifier(identifier),
	)
	if err != nil {
		logger.Fatal("Failed to create dispatcher", zap.Error(err))
	}

	queue, err := eventqueue.New(store, failed, dispatcher,
		eventqueue.WithLogger(logger),
		eventqueue.WithMetrics(metrics),
		eventqueue.WithTxManager(manager.Must(trmsql.NewDefaultFactory(store.DB()))),
	)
	if err != nil {
		logger.Fatal("Failed to create queue", zap.Error(err))
	}

	feeder, err := eventqueue.NewBatchFeeder(queue, cfg.API.BaseURL+eventqueue.PathBulkEvent,
		eventqueue.WithFeederLogger(logger),
		eventqueue.WithFeederMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("Failed to create batch feeder", zap.Error(err))
	}

	supervisor := eventqueue.NewSupervisor(logger,
		eventqueue.NewQueueWorker(queue, logger),
		eventqueue.NewSyncWorker(queue, cfg.Jobs.SyncInterval, logger),
		eventqueue.NewResubmitWorker(feeder, cfg.Jobs.ResubmitInterval, logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return produceSampleEvents(gctx, queue, feeder, cfg.API.BaseURL, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Demo stopped with error", zap.Error(err))
	}

	if err := feeder.Flush(context.Background()); err != nil {
		logger.Warn("Failed to flush buffered events", zap.Error(err))
	}
	logger.Info("Demo stopped")
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*sqlstore.SQLStore, error) {
	if cfg.Driver == "sqlite" {
		return sqlstore.OpenSQLite(ctx, cfg.DSN, sqlstore.WithLogger(logger))
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	store := sqlstore.NewSQLStore(db, sqlstore.WithDialect(sqlstore.DialectMySQL), sqlstore.WithLogger(logger))
	if err := store.EnsureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newTransport(cfg config.TransportConfig, logger *zap.Logger) (eventqueue.Transport, func(), error) {
	if cfg.Kind == "kafka" {
		t, err := kafkatransport.New(
			kafkatransport.WithLogger(logger),
			kafkatransport.WithTopic(cfg.KafkaTopic),
			kafkatransport.WithProducerConfig(kafka.ConfigMap{
				"bootstrap.servers": strings.Join(cfg.KafkaBrokers, ","),
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	}

	t := httptransport.New(httptransport.WithTimeout(cfg.HTTPTimeout), httptransport.WithLogger(logger))
	return t, func() {}, nil
}

func produceSampleEvents(ctx context.Context, q *eventqueue.Queue, f *eventqueue.BatchFeeder, baseURL string, logger *zap.Logger) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		body := fmt.Sprintf(`{"name":"app_open","seq":%d,"ts":%d}`, i, time.Now().UnixMilli())
		req, err := eventqueue.NewRequest(eventqueue.MethodPost, baseURL+eventqueue.PathSingleEvent, body)
		if err != nil {
			return err
		}
		if err := q.Enqueue(ctx, req); err != nil {
			logger.Error("Failed to enqueue sample event", zap.Error(err))
			continue
		}

		if err := f.Track(ctx, map[string]any{"name": "screen_view", "seq": i}); err != nil {
			logger.Error("Failed to track sample event", zap.Error(err))
		}
		logger.Info("Sample events produced", zap.Int("seq", i))
	}
}
