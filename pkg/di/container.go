package di

import (
	"context"
	"fmt"
	"time"

	"marketplace-chat/backend/internal/media"
	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/internal/unread"
	"marketplace-chat/backend/internal/ws"
	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/health"
	"marketplace-chat/backend/pkg/jwt"
	"marketplace-chat/backend/pkg/logger"
	sharedredis "marketplace-chat/backend/shared/redis"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *gorm.DB
	Mongo *mongo.Client
	Redis *redis.Client

	JWTService     *jwt.Service
	Messages       repository.MessageRepository
	Bookings       repository.BookingRepository
	MessageService *service.MessageService
	BookingService *service.BookingService
	ChatService    *service.ChatService
	Tracker        *unread.Tracker
	Media          *media.Store

	Broker  *ws.Broker
	Channel *ws.Channel
	Hub     *ws.Hub
	Health  *health.Checker

	closers []func(context.Context) error
}

// Options overrides parts of the wiring, mostly for tests
type Options struct {
	// JWTSecret is the resolved signing secret; empty uses cfg.JWT.Secret
	JWTSecret string
	// DB is used instead of opening a postgres connection
	DB *gorm.DB
	// Redis is used instead of connecting to cfg.Redis.URL
	Redis *redis.Client
	// Bookings seeds the in-memory booking store of the memory driver
	Bookings []models.Booking
}

// New wires the chat subsystem for the configured storage driver
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}

	secret := opts.JWTSecret
	if secret == "" {
		secret = cfg.JWT.Secret
	}
	c.JWTService = jwt.NewService(secret, cfg.JWT.ExpiryHours)

	if err := c.initStorage(ctx, opts); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	c.initCounters(ctx, opts)

	store, err := media.NewStoreFromConfig(cfg, log)
	if err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}
	c.Media = store

	c.MessageService = service.NewMessageService(c.Messages, log)
	c.BookingService = service.NewBookingService(c.Bookings, cfg.Chat.BookingCacheTTL, log)

	c.Broker = ws.NewBroker(c.BookingService, log)
	c.Channel = ws.NewChannel(c.Broker, log)

	var counter unread.Counter = unread.NewMemoryCounter()
	if c.Redis != nil {
		counter = unread.NewRedisCounter(c.Redis)
	}
	c.Tracker = unread.NewTracker(counter, c.Broker)

	c.ChatService = service.NewChatService(c.MessageService, c.BookingService, c.Tracker, c.Channel, log)
	c.Hub = ws.NewHub(c.Broker, c.ChatService, ws.ClientOptionsFromConfig(cfg), log)

	c.initHealth()
	return c, nil
}

func (c *Container) initStorage(ctx context.Context, opts Options) error {
	switch c.Config.Database.Driver {
	case config.DriverMongo:
		client, db, err := config.NewMongo(ctx, c.Config)
		if err != nil {
			return err
		}
		c.Mongo = client
		c.closers = append(c.closers, client.Disconnect)

		messages := repository.NewMongoMessageRepository(db)
		if err := messages.EnsureIndexes(ctx); err != nil {
			c.Logger.LogError(err, "Failed to create message indexes")
		}
		c.Messages = messages
		c.Bookings = repository.NewMongoBookingRepository(db)

	case config.DriverMemory:
		c.Messages = repository.NewMemoryMessageRepository()
		c.Bookings = repository.NewMemoryBookingRepository(opts.Bookings...)
		c.Logger.Warn("Using in-memory storage; messages are lost on restart")

	default:
		db := opts.DB
		if db == nil {
			var err error
			db, err = config.NewDB(c.Config)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				c.closers = append(c.closers, func(context.Context) error { return sqlDB.Close() })
			}
		}
		if err := repository.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		c.DB = db
		c.Messages = repository.NewGormMessageRepository(db)
		c.Bookings = repository.NewGormBookingRepository(db)
	}
	return nil
}

// initCounters connects Redis when enabled. Counters fall back to memory
// rather than failing startup, since they are advisory.
func (c *Container) initCounters(ctx context.Context, opts Options) {
	if opts.Redis != nil {
		c.Redis = opts.Redis
		return
	}
	if !c.Config.Redis.Enabled {
		return
	}

	client, err := sharedredis.Connect(ctx, c.Config.Redis.URL)
	if err != nil {
		c.Logger.LogError(err, "Redis unavailable, unread counters kept in memory")
		return
	}
	c.Redis = client
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
}

func (c *Container) initHealth() {
	c.Health = health.NewChecker(c.Logger, 30*time.Second)
	c.Health.RegisterCheck("message_store", true,
		health.PingCheck("Message store reachable", "Message store unreachable", c.MessageService.Ping))

	if c.Redis != nil {
		c.Health.RegisterCheck("redis", false,
			health.PingCheck("Redis reachable", "Redis unreachable", func(ctx context.Context) error {
				return c.Redis.Ping(ctx).Err()
			}))
	}

	c.Health.RegisterCheck("websocket", false, func(context.Context) (health.Status, string, error) {
		rooms, conns := c.Broker.Stats()
		return health.StatusUp, fmt.Sprintf("%d connections in %d rooms", conns, rooms), nil
	})
}

// Start runs background loops until ctx is done
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
	if cache := c.BookingService.Cache(); cache != nil {
		go cache.Run(ctx, time.Minute)
	}
	go c.MessageService.Clock().Run(ctx, time.Minute)
}

// Close releases connections in reverse order of acquisition
func (c *Container) Close(ctx context.Context) error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
