package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/config"
	"tush00nka/bbbab_teamchat/internal/handler"
	"tush00nka/bbbab_teamchat/internal/pkg/auth"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/pkg/storage"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"
	"tush00nka/bbbab_teamchat/internal/service"
	"tush00nka/bbbab_teamchat/internal/ws"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const reclaimInterval = 10 * time.Minute

type App struct {
	cfg         *config.Config
	db          *gorm.DB
	rdb         *redis.Client
	relay       *broadcast.KafkaRelay
	dispatcher  *broadcast.Dispatcher
	coordinator *presence.Coordinator
	hub         *ws.Hub
	users       service.UserService
	messages    service.MessageService
	server      *Server
}

// New поднимает зависимости и собирает приложение. Redis, Kafka и S3
// необязательны: без них сервис работает на одном узле без вложений.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.Init(cfg.LogLevel)
	auth.SetKey(cfg.JWTKey)

	db, err := repository.NewDB(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &App{cfg: cfg, db: db}
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	a.rdb, err = storage.NewRedisClient(ctx, storage.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	var cache repository.PresenceCache
	if a.rdb != nil {
		cache = repository.NewPresenceCache(a.rdb)
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}

	var blobs service.BlobStore
	s3Storage, err := service.NewS3Storage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if s3Storage != nil {
		blobs = s3Storage
		checks["s3"] = s3Storage.HealthCheck
	} else {
		logger.Log.Warn("S3_BUCKET_NAME is not set, attachments are disabled")
	}

	userRepo := repository.NewUserRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	access := policy.New(memberRepo)

	registry := newRegistry()
	a.dispatcher = broadcast.NewDispatcher(channelRepo, userRepo, access, broadcast.NewMetrics(registry))

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		instanceID := uuid.NewString()
		a.relay = broadcast.NewKafkaRelay(brokers, cfg.KafkaTopic, instanceID)
		a.dispatcher.AttachRelay(a.relay, instanceID)
		logger.Log.Info("kafka relay enabled", "brokers", brokers, "topic", cfg.KafkaTopic, "instance", instanceID)
	}

	// сервис пользователей читает состав из координатора и создается после него;
	// изменения присутствия начинаются только с первым подключением
	var users service.UserService
	a.coordinator = presence.New(presence.Config{
		HeartbeatTimeout: cfg.PresenceTimeout,
		TypingTTL:        cfg.TypingTTL,
	}, presenceSink(a.dispatcher, func(change presence.Change) {
		if users != nil {
			users.OnPresenceChange(change)
		}
	}))
	users = service.NewUserService(userRepo, cache, a.coordinator, cfg.OnlineWindow)
	a.users = users

	a.hub = ws.NewHub(a.dispatcher, a.coordinator, ws.NewUpgrader(cfg.Origins(), cfg.IsDevelopment() || len(cfg.Origins()) == 0), ws.HubOptions{
		OnActivity: func(userID uint) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := users.Touch(ctx, userID); err != nil {
					logger.Log.Warn("failed to record activity", "user_id", userID, "error", err)
				}
			}()
		},
	})
	a.dispatcher.AttachTransport(a.hub)
	registerHubMetrics(registry, a.hub)

	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), a.dispatcher)
	channels := service.NewChannelService(channelRepo, memberRepo, userRepo, access, blobs, a.dispatcher)
	a.messages = service.NewMessageService(messageRepo, channelRepo, memberRepo, userRepo, access, blobs, notifications, a.dispatcher)
	reactions := service.NewReactionService(repository.NewReactionRepository(db), messageRepo, channelRepo, userRepo, access, a.dispatcher)
	typing := service.NewTypingService(channelRepo, access, a.coordinator, a.dispatcher, cfg.TypingRPS)

	a.server = NewServer(Handlers{
		User:         handler.NewUserHandler(users),
		Channel:      handler.NewChannelHandler(channels, typing),
		Message:      handler.NewMessageHandler(a.messages, reactions),
		Notification: handler.NewNotificationHandler(notifications),
		Realtime:     handler.NewRealtimeHandler(a.dispatcher, a.hub, users),
		Health:       handler.NewHealthHandler(checks),
	}, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), cfg.Origins())

	return a, nil
}

// Run запускает фоновые задачи и HTTP-сервер до отмены ctx
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	background := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if a.relay != nil {
		background(func(ctx context.Context) {
			if err := a.relay.Run(ctx, a.dispatcher.DeliverEnvelope); err != nil {
				logger.Log.Error("kafka relay stopped", "error", err)
			}
		})
	}
	background(func(ctx context.Context) { service.RunReclaimer(ctx, a.messages, reclaimInterval) })
	if a.rdb != nil {
		background(a.pruneActivity)
	}

	err := a.server.Run(ctx, a.cfg.ServerPort)
	cancel()
	a.hub.Shutdown()
	wg.Wait()
	return err
}

// pruneActivity чистит зеркало присутствия раз в окно онлайна
func (a *App) pruneActivity(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.OnlineWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.users.PruneActivity(ctx); err != nil {
				logger.Log.Warn("presence cache prune failed", "error", err)
			} else if n > 0 {
				logger.Log.Debug("presence cache pruned", "removed", n)
			}
		}
	}
}

// Close освобождает соединения с внешними сервисами
func (a *App) Close() {
	a.coordinator.Close()
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			logger.Log.Warn("failed to close kafka relay", "error", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Run собирает приложение из конфигурации и работает до SIGINT/SIGTERM
func Run(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg)
	if err != nil {
		logger.Log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	err = a.Run(ctx)
	a.Close()
	if err != nil {
		logger.Log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// presenceSink раздает изменения состава подписчикам этого узла. Seq ведет
// координатор узла, поэтому изменения не уходят в relay: состав каналов
// у каждого экземпляра свой, общий список онлайн собирается через Redis.
func presenceSink(dispatcher *broadcast.Dispatcher, next func(presence.Change)) func(presence.Change) {
	return func(change presence.Change) {
		name, event := ws.PresenceFeed(change)
		dispatcher.DeliverPresence(context.Background(), name, event)
		next(change)
	}
}
