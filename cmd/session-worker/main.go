package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	config "github.com/NordCoder/Studymate/internal/config/session-worker"
	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/obs"
	"github.com/NordCoder/Studymate/internal/obs/retry"
	"github.com/NordCoder/Studymate/internal/outbox"
	"github.com/NordCoder/Studymate/internal/repository/kafka"
	pg "github.com/NordCoder/Studymate/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Studymate/internal/repository/redis"
	sessionworker "github.com/NordCoder/Studymate/internal/services/session-worker"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "../config/session-worker.yaml", "path to config file")
	flag.Parse()

	// init
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting session-worker",
		zap.String("store", cfg.Store),
		zap.Bool("sweeper", cfg.Sweeper.Enable),
		zap.Bool("outbox", cfg.Outbox.Enable),
		zap.Bool("audit", cfg.Audit.Enable),
		zap.Any("kafka", cfg.Kafka),
	)

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	// db
	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	checks := map[string]obs.Check{"postgres": db.Ping}
	var tokens domainauth.RefreshTokenRepo = pg.NewRefreshTokenRepo(db)
	if cfg.Store == "redis" {
		rdb, err := redisrepo.NewClient(root, cfg.Redis)
		if err != nil {
			l.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		tokens = redisrepo.NewRefreshTokenRepo(rdb, cfg.Redis.KeyPrefix, func() time.Time { return time.Now().UTC() })
	}

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, checks, l)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Sweeper.Enable {
		sweeper := sessionworker.NewSweepRunner(l, &sessionworker.Sweeper{
			Tokens:          tokens,
			Outbox:          pg.NewOutboxRepo(db),
			OutboxRetention: cfg.Outbox.Retention,
		}, cfg.Sweeper.Tick)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- sweeper.Run(root)
		}()
	}

	var producer *kafka.Producer
	if cfg.Outbox.Enable {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
		dispatch := outbox.MakeGlobalOutboxHandler(kafka.NewSessionEventsKafka(producer), retry.PublishPolicy("outbox_session_event", l))
		runner := outbox.NewOutboxRunner(l, pg.NewOutboxRepo(db), dispatch,
			cfg.Outbox.Workers, cfg.Outbox.BatchSize, cfg.Outbox.WaitTime, cfg.Outbox.InProgressTTL)
		runner.Start(root)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Wait()
		}()
	}

	if cfg.Audit.Enable {
		cons := kafka.BootstrapConsumer(root, &kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.Topic,
			Logger:  l,
		}, cfg.Kafka.Partitions, l)
		defer func() { _ = cons.Close() }()

		audit := sessionworker.NewAuditRunner(l, cons)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- audit.Run(root)
		}()
	}

	l.Info("session-worker started")

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
		stop()
	}

	// graceful shutdown
	wg.Wait()
	if producer != nil {
		_ = producer.Close()
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
