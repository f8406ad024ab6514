package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"tpoms/internal/adapter"
	"tpoms/internal/api"
	"tpoms/internal/broker"
	"tpoms/internal/bus"
	"tpoms/internal/config"
	"tpoms/internal/repository"
	"tpoms/internal/websocket"
	"tpoms/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// База данных необязательна: без неё entity берутся из ENTITIES
	var (
		entities repository.EntityStore
		events   *repository.OrderEventRepository
	)
	if cfg.Database.Enabled() {
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

		entities = repository.NewEntityRepository(db, cfg.Security.Key)
		events = repository.NewOrderEventRepository(db)

		if cfg.Database.RetentionDays > 0 {
			go runJournalCleanup(ctx, events, cfg.Database.RetentionDays, logger)
		}
	} else {
		entities = repository.NewStaticEntityStore(cfg.Entities)
		logger.Info("database disabled, using entities from environment", zap.Int("entities", len(cfg.Entities)))
	}

	// Шина Blitz
	b, err := bus.New(bus.Config{
		Backend:       cfg.Bus.Backend,
		RedisAddr:     cfg.Bus.RedisAddr,
		RedisPassword: cfg.Bus.RedisPassword,
		RedisDB:       cfg.Bus.RedisDB,
		KafkaBrokers:  cfg.Bus.KafkaBrokers,
		KafkaGroupID:  cfg.Bus.KafkaGroupID,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	defer b.Close()

	// Поток мониторинга
	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	deps := adapter.Dependencies{
		Bus:             b,
		ResponseChannel: cfg.Bus.ResponseChannel,
		Stream:          hub,
		BrokerOptions:   brokerOptions(cfg),
		Config:          adapterConfig(cfg),
		OnState: func(entity, brokerName string, from, to adapter.State, reason string) {
			hub.Broadcast(websocket.NewAdapterStateMessage(entity, brokerName, string(from), string(to), reason))
		},
		Logger: logger,
	}
	if events != nil {
		deps.Journal = events
	}
	manager := adapter.NewManager(adapter.NewFactory(deps), logger)

	if err := manager.Run(ctx, b, cfg.Bus.RequestChannel); err != nil {
		return err
	}
	startEntities(ctx, manager, entities, logger)

	// HTTP сервер панели управления
	apiDeps := &api.Dependencies{
		Manager:        manager,
		Entities:       entities,
		Hub:            hub,
		OriginChecker:  websocket.NewOriginChecker(cfg.Server.AllowedOrigins),
		AdminTokenHash: cfg.Security.AdminTokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StartTimeout:   cfg.Adapter.LoginTimeout + cfg.Adapter.RESTTimeout,
		Logger:         logger,
	}
	if events != nil {
		apiDeps.Journal = events
	}
	if cfg.Security.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, control plane API disabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(apiDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: apiDeps.StartTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Сначала адаптеры: выход из сессий брокеров, последние ответы на шину
	manager.StopAll(shutdownCtx)
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// startEntities запускает адаптеры всех включённых entity
// Ошибка входа одного аккаунта не мешает остальным.
func startEntities(ctx context.Context, manager *adapter.Manager, store repository.EntityStore, logger *zap.Logger) {
	list, err := store.GetEnabled(ctx)
	if err != nil {
		logger.Error("failed to load entities", zap.Error(err))
		return
	}

	for _, e := range list {
		if err := manager.Start(ctx, *e); err != nil {
			logger.Error("adapter start failed",
				zap.String("entity", e.ID),
				zap.String("broker", e.Broker),
				zap.Error(err))
		}
	}
}

func adapterConfig(cfg *config.Config) adapter.Config {
	feed := broker.DefaultFeedConfig()
	feed.Reconnect.InitialDelay = cfg.Adapter.WSBaseDelay
	feed.Reconnect.MaxDelay = cfg.Adapter.WSMaxDelay
	feed.Reconnect.HeartbeatInterval = cfg.Adapter.WSHeartbeat
	feed.BufferSize = cfg.Adapter.FeedBufferSize

	return adapter.Config{
		RESTTimeout:    cfg.Adapter.RESTTimeout,
		LoginTimeout:   cfg.Adapter.LoginTimeout,
		ResyncInterval: cfg.Adapter.ResyncInterval,
		QueueSize:      cfg.Adapter.QueueSize,
		ParkedPerOrder: cfg.Adapter.ParkedPerOrder,
		Feed:           feed,
	}
}

func brokerOptions(cfg *config.Config) broker.Options {
	httpCfg := broker.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Adapter.RESTTimeout
	return broker.Options{HTTP: httpCfg}
}

// initDatabase создает подключение к базе данных и применяет схему
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := repository.EnsureSchema(pingCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// runJournalCleanup раз в торговый день удаляет старые записи order_events
func runJournalCleanup(ctx context.Context, events *repository.OrderEventRepository, days int, logger *zap.Logger) {
	for {
		cutoff := utils.RetentionCutoff(time.Now(), days)
		n, err := events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.Warn("order events cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("order events cleaned up", zap.Int64("deleted", n), zap.Time("before", cutoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(utils.UntilNextDayStart(time.Now()) + time.Minute):
		}
	}
}
