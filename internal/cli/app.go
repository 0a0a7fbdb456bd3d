package cli

import (
	"fmt"

	"go.uber.org/zap"

	"repodash/internal/api"
	"repodash/internal/config"
	"repodash/internal/connectivity"
	"repodash/internal/kv"
	"repodash/internal/queue"
	"repodash/internal/session"
	"repodash/internal/store"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	kv         kv.Store
	store      *store.SessionStore
	queue      *queue.Queue
	client     *api.Client
	coord      *connectivity.Coordinator
	controller *session.Controller
}

func newApp() (*app, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	kvStore, err := openKV(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sessionStore := store.NewSessionStore(kvStore, store.AllowAll{}, logger)
	offlineQueue := queue.New(kvStore, logger)
	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, logger)
	coord := connectivity.New(client, offlineQueue, logger)
	controller := session.NewController(client, sessionStore, offlineQueue, coord, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		kv:         kvStore,
		store:      sessionStore,
		queue:      offlineQueue,
		client:     client,
		coord:      coord,
		controller: controller,
	}, nil
}

func openKV(cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "redis":
		return kv.OpenRedis(kv.RedisOptions{
			Host:     cfg.Storage.Redis.Host,
			Port:     cfg.Storage.Redis.Port,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	default:
		return kv.OpenSQL(cfg.Storage.Driver, cfg.Storage.DSN)
	}
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}
