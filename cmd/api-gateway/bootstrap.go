package main

import (
	"context"
	"fmt"
	"time"

	config "github.com/NordCoder/Studymate/internal/config/api-gateway"
	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/user"
	"github.com/NordCoder/Studymate/internal/obs"
	"github.com/NordCoder/Studymate/internal/outbox"
	"github.com/NordCoder/Studymate/internal/repository/memory"
	pg "github.com/NordCoder/Studymate/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Studymate/internal/repository/redis"
	"go.uber.org/zap"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
}

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	o, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		return nil, err
	}
	return o.Shutdown, nil
}

// stores is the persistence the session manager runs on, plus what main
// must close and probe.
type stores struct {
	Users  user.Repo
	Tokens domainauth.RefreshTokenRepo
	Tx     domainauth.Transactor
	Events domainauth.EventSink

	checks  map[string]obs.Check
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func initStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	now := func() time.Time { return time.Now().UTC() }

	if cfg.Session.Store == config.StoreMemory {
		logger.Warn("session store is in-memory; sessions do not survive restarts")
		return &stores{
			Users:  memory.NewUserRepo(now),
			Tokens: memory.NewRefreshTokenRepo(now),
			Tx:     memory.Transactor{},
			Events: outbox.LogSink{Log: logger},
			checks: map[string]obs.Check{},
		}, nil
	}

	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	s := &stores{
		Users:   pg.NewUserRepo(db),
		Tokens:  pg.NewRefreshTokenRepo(db),
		Tx:      pg.NewTransactor(db, logger),
		Events:  outbox.NewEventSink(pg.NewOutboxRepo(db)),
		checks:  map[string]obs.Check{"postgres": db.Ping},
		closers: []func(){db.Close},
	}

	if cfg.Session.Store == config.StoreRedis {
		rdb, err := redisrepo.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		s.Tokens = redisrepo.NewRefreshTokenRepo(rdb, cfg.Redis.KeyPrefix, now)
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		s.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return s, nil
}
