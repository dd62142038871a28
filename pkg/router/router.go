package router

import (
	"strings"
	"time"

	"marketplace-chat/backend/internal/api"
	"marketplace-chat/backend/internal/ws"
	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/di"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/jwt"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config

	limiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "Invalid trusted proxies, trusting none")
		_ = engine.SetTrustedProxies(nil)
	}

	// Request id and logger first so every later failure is attributable
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(cors.New(corsConfig(cfg)))
	engine.Use(middleware.BodyLimit(cfg.Security.MaxBodySize))

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
		KeyFunc:        middleware.UserOrIPKey,
	})

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		limiter:   limiter,
	}
}

// RateLimiter exposes the HTTP limiter so the caller can run its eviction loop
func (r *Router) RateLimiter() *middleware.RateLimiter {
	return r.limiter
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Uploaded media is public by URL; names are random
	if strings.HasPrefix(r.Config.Chat.MediaBaseURL, "/") {
		r.Engine.Static(r.Config.Chat.MediaBaseURL, c.Media.Dir())
	}

	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, r.Logger)
	// only booking participants (and support staff) talk in booking rooms
	chatRoles := middleware.RequireAnyRole(jwt.RoleCustomer, jwt.RoleWorker, jwt.RoleAdmin)
	chatController := api.NewChatController(c.ChatService, c.Media, r.Logger)
	validateV1, validateLegacy := r.openAPIValidation()

	// API version 1 routes
	v1 := r.Engine.Group("/api/v1")
	if !r.Config.IsProduction() {
		api.NewAuthHandler(c.JWTService, r.Logger).RegisterRoutes(v1)
	}

	protected := v1.Group("/", jwtAuth, chatRoles, r.limiter.Middleware(), validateV1)
	chatController.RegisterRoutes(protected)

	// Unversioned paths used by the existing web client
	legacy := r.Engine.Group("/", jwtAuth, chatRoles, r.limiter.Middleware(), validateLegacy)
	chatController.RegisterRoutes(legacy)

	// WebSocket route
	wsHandler := ws.NewHandler(c.Hub, r.Config.Security.AllowedOrigins, r.Logger)
	r.Engine.GET("/ws", middleware.WSAuthMiddleware(c.JWTService, r.Logger), chatRoles, wsHandler.ServeWS)
}

// corsConfig allows websocket upgrade headers on top of the usual API headers
func corsConfig(cfg *config.Config) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Authorization", "Origin", "Upgrade", "Connection", "Cache-Control", "X-Request-ID"},
		ExposeHeaders:    []string{"Upgrade", "Connection", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}

	origins := cfg.Security.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
