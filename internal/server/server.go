// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "bloodbooth/docs" // swagger docs
	"bloodbooth/internal/cache"
	"bloodbooth/internal/config"
	"bloodbooth/internal/database"
	"bloodbooth/internal/featureflags"
	"bloodbooth/internal/middleware"
	"bloodbooth/internal/models"
	"bloodbooth/internal/notifications"
	"bloodbooth/internal/observability"
	"bloodbooth/internal/ratelimit"
	"bloodbooth/internal/repository"
	"bloodbooth/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
)

const serviceName = "bloodbooth-api"

// wireableHub is implemented by every WebSocket hub that can be wired to
// Redis pub/sub and gracefully shut down.
type wireableHub interface {
	Name() string
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// Server holds all dependencies and provides handlers
type Server struct {
	config          *config.Config
	repo            repository.DonationRequestRepository
	redis           *redis.Client
	app             *fiber.App
	promMiddleware  *fiberprometheus.FiberPrometheus
	shutdownCtx     context.Context
	shutdownFn      context.CancelFunc
	notifier        *notifications.Notifier
	hub             *notifications.Hub
	hubs            []wireableHub
	featureFlags    *featureflags.Manager
	donationService *service.DonationRequestService
	closeStore      func(context.Context) error
	closeTracing    func(context.Context) error
}

// NewServer creates a new server instance with all dependencies
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	closeTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = closeTracing(ctx)
		return nil, err
	}

	// Redis is optional: the cache falls through and rate limiting falls back to memory.
	cache.InitRedis(cfg.RedisURL)

	server, err := NewServerWithDeps(cfg, repo, cache.GetClient())
	if err != nil {
		_ = closeStore(ctx)
		_ = closeTracing(ctx)
		return nil, err
	}
	server.closeStore = closeStore
	server.closeTracing = closeTracing
	return server, nil
}

// openStore connects the configured persistence backend and returns its repository.
func openStore(ctx context.Context, cfg *config.Config) (repository.DonationRequestRepository, func(context.Context) error, error) {
	if cfg.StoreDriver == config.StoreDriverMongo {
		client, err := repository.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		repo := repository.NewMongoDonationRequestRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("mongo index setup failed: %w", err)
		}
		return repo, repo.Disconnect, nil
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	closeDB := func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return repository.NewDonationRequestRepository(db), closeDB, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes the store and Redis.
func NewServerWithDeps(cfg *config.Config, repo repository.DonationRequestRepository, redisClient *redis.Client) (*Server, error) {
	if repo == nil {
		return nil, errors.New("donation request repository is required")
	}
	middleware.InitMiddleware(cfg)

	server := &Server{
		config:         cfg,
		repo:           repo,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics(serviceName),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	opts := []service.Option{service.WithFeatureFlags(server.featureFlags)}

	// Initialize notifier and hub if Redis is available
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
		server.hub = notifications.NewHub()
		server.hubs = []wireableHub{server.hub}
		opts = append(opts, service.WithEvents(server.notifier))
	}

	server.donationService = service.NewDonationRequestService(
		repo, ratelimit.NewLimiter(repo, cfg.DonationRequestLimit, cfg.DonationRequestWindow), opts...)

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Server span; sets the traceID local read by the context middleware
	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and Trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before middlewares that can short-circuit so error responses keep CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:3000,http://127.0.0.1:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	api.Get("/", s.HealthCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	api.Get("/feature-flags", middleware.OptionalAuth, s.GetFeatureFlags)

	// Donation requests. The unprefixed paths are kept for existing clients.
	writeLimit := middleware.RateLimit(s.redis, 30, time.Minute, "donation_request_write")

	legacy := app.Group("/donation-requests", middleware.OptionalAuth)
	legacy.Post("/", writeLimit, s.CreateDonationRequest)
	legacy.Patch("/", writeLimit, s.UpdateDonationRequest)

	requests := api.Group("/donation-requests", middleware.OptionalAuth)
	requests.Post("/", writeLimit, s.CreateDonationRequest)
	requests.Patch("/", writeLimit, s.UpdateDonationRequest)
	requests.Get("/", s.ListDonationRequests)
	requests.Get("/:id", s.GetDonationRequest)

	// Websocket event feed
	api.Get("/ws", middleware.WebSocketAuthRequired, requireUpgrade, s.WebsocketHandler())
}

// newApp builds the Fiber app with middleware and routes registered.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Bloodbooth API",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// errorHandler renders errors that escape handlers, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(models.ErrorResponse{Error: fiberErr.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err.Error())
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// HealthCheck is a legacy/simple alias for ReadinessCheck
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return s.ReadinessCheck(c)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.repo.Ping(ctx); err != nil {
		middleware.Logger.WarnContext(ctx, "store ping failed", "error", err.Error())
		storeStatus = "unhealthy"
	}

	// Redis is optional; only a configured but unreachable Redis fails readiness.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"service": serviceName,
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// GetFeatureFlags returns configured feature flags and evaluated state for the current user.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	go middleware.FallbackLimiters().StartJanitor(ctx, time.Minute)

	// Wire all hubs to Redis subscriber if available
	if s.notifier != nil {
		for _, h := range s.hubs {
			h := h
			go func() {
				if err := h.StartWiring(s.shutdownCtx, s.notifier); err != nil {
					middleware.Logger.Error("failed to start hub wiring", "hub", h.Name(), "error", err.Error())
				}
			}()
		}
	}

	middleware.Logger.Info("server starting", "port", s.config.Port, "store", s.config.StoreDriver)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop wiring goroutines and the limiter janitor
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err.Error())
		}
	}

	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			middleware.Logger.Error("error shutting down hub", "hub", h.Name(), "error", err.Error())
		}
	}

	if s.closeStore != nil {
		if err := s.closeStore(ctx); err != nil {
			middleware.Logger.Error("error closing store", "error", err.Error())
		}
	}

	if s.redis != nil {
		cache.Close()
	}

	if s.closeTracing != nil {
		if err := s.closeTracing(ctx); err != nil {
			middleware.Logger.Error("error flushing traces", "error", err.Error())
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
