package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"docproof/apps/backend/internal/adapter/bolt"
	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/config"
)

type Dependencies struct {
	DB          *sql.DB
	NSQProducer *nsq.Producer
	Cache       cache.Cache

	closers []func() error
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	deps := &Dependencies{DB: db}
	deps.closers = append(deps.closers, db.Close)

	// Migrations
	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}

	// Result cache
	switch cfg.CacheBackend {
	case config.CacheBackendBolt:
		bc, err := bolt.Open(cfg.CacheBoltPath)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("bolt cache error: %w", err)
		}
		deps.Cache = bc
		deps.closers = append(deps.closers, bc.Close)
	default:
		deps.Cache = cache.NewPostgresCache(db)
	}
	slog.Info("result cache ready", "backend", cacheBackendName(cfg.CacheBackend))

	// NSQ Producer
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	deps.NSQProducer = producer
	deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })

	// Topic pre-creation so consumers querying lookupd find them.
	go createTopics(ctx, cfg.NSQDHTTP, config.Topics)

	return deps, nil
}

func cacheBackendName(b string) string {
	if b == "" {
		return config.CacheBackendPostgres
	}
	return b
}

// PingWithRetry pings until success or attempts run out, waiting delay
// between tries.
func PingWithRetry(ctx context.Context, db Pinger, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return db.PingContext(ctx)
	}, policy, func(err error, _ time.Duration) {
		slog.Warn("failed to ping db, retrying...", "attempt", attempt, "max_attempts", attempts, "error", err)
	})
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return nil
}

func createTopics(ctx context.Context, nsqdHTTP string, topics []string) {
	client := &http.Client{Timeout: 5 * time.Second}

	create := func(topic string) error {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("nsqd returned %d", resp.StatusCode)
		}
		return nil
	}

	for _, topic := range topics {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5), ctx)
		if err := backoff.Retry(func() error { return create(topic) }, policy); err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		slog.Info("NSQ topic ready", "topic", topic)
	}
}
