package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/cache"
	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/handlers"
	"github.com/smarttransit/seat-booking-core/internal/middleware"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
	"github.com/smarttransit/seat-booking-core/pkg/jwt"
	"github.com/smarttransit/seat-booking-core/pkg/sms"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// stores groups the persistence ports the services are built on
type stores struct {
	ledger      services.LedgerStore
	attempts    services.AttemptStore
	audits      services.PaymentAuditStore
	buses       services.BusStore
	assignments services.AssignmentStore
	health      handlers.HealthCheck
	close       func() error
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit seat booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Logging.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}))
		logger.WithField("file", cfg.Logging.File).Info("File logging enabled")
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	if err := handlers.RegisterValidators(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}

	// Initialize storage
	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.close()

	// Initialize services
	logger.Info("Initializing services...")
	loc := cfg.Booking.TripTimezone

	inventoryService := services.NewTripInventoryService(st.ledger, st.assignments, st.buses, loc, time.Now, logger)
	ledger := services.NewReservationLedger(st.ledger, inventoryService, services.LedgerConfigFrom(cfg.Booking), time.Now, logger)

	var gateway services.PaymentGateway
	switch cfg.Payment.Gateway {
	case "payable":
		gateway = services.NewPAYableGateway(cfg.Payment, logger)
		logger.WithField("environment", cfg.Payment.Environment).Info("PAYable payment gateway enabled")
	default:
		gateway = services.NewSimulatedGateway(time.Now)
		logger.Warn("Simulated payment gateway enabled - no real charges are made")
	}

	var notifier services.Notifier
	switch cfg.Notification.Channel {
	case "sms":
		notifier = services.NewSMSNotifier(newSMSSender(cfg.Notification), logger)
		logger.Info("SMS notifications enabled")
	default:
		notifier = services.NewLogNotifier(logger)
	}

	orchestrator := services.NewBookingOrchestratorService(
		ledger,
		st.attempts,
		gateway,
		notifier,
		services.DefaultPricing(cfg.Booking.TaxRate),
		services.OrchestratorConfigFrom(cfg),
		time.Now,
		logger,
	)
	orchestrator.SetAuditTrail(st.audits)
	ledger.Subscribe(orchestrator.HandleLedgerEvent)

	healthChecks := map[string]handlers.HealthCheck{"database": st.health}

	// Availability cache and hold counters. Without redis the counters are
	// per instance.
	var availabilityCache services.AvailabilityCache
	var holdCounter services.RequestCounter = services.NewMemoryCounter()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		c := cache.NewAvailabilityCache(redisClient, cfg.Redis.TTL, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Redis unreachable, search will fall back to the ledger until it recovers")
		}
		cancel()

		ledger.Subscribe(c.HandleLedgerEvent)
		availabilityCache = c
		holdCounter = cache.NewRateCounter(redisClient)
		healthChecks["redis"] = c.Ping
		logger.WithField("addr", cfg.Redis.Addr).Info("Availability cache enabled")
	}

	// Background services
	sweeper := services.NewHoldExpirationService(ledger, orchestrator, cfg.Booking.SweepInterval, time.Now, logger)
	ledger.SetSweepScheduler(sweeper)
	sweeper.Start()

	cronService := services.NewCronService(inventoryService, ledger, sweeper, services.CronSchedule{
		MaterializeDaysAhead: cfg.Booking.MaterializeDaysAhead,
		RetentionDays:        cfg.Booking.InventoryRetentionDays,
		Location:             loc,
	}, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	busService := services.NewBusService(st.buses, st.assignments, models.SeatMapPolicy{
		MinActiveSeats: cfg.Booking.MinActiveSeats,
		MaxActiveSeats: cfg.Booking.MaxActiveSeats,
	}, cfg.Booking.DefaultCurrency, time.Now, logger)
	searchService := services.NewSearchService(st.assignments, ledger, availabilityCache, loc, time.Now, logger)
	ticketService := services.NewTicketService(loc, logger)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	bookingHandler := handlers.NewBookingHandler(orchestrator, ticketService, logger)
	holdLimiter := services.NewHoldRateLimiter(holdCounter, services.RateLimitConfigFrom(cfg.Booking), time.Now, logger)
	if holdLimiter.Enabled() {
		bookingHandler.SetRateLimiter(holdLimiter)
	}

	logger.Info("Services initialized")

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Server.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	handlers.SetupRoutes(router, handlers.Routes{
		Health:   handlers.NewHealthHandler("seat-booking-core", healthChecks),
		Trips:    handlers.NewTripHandler(searchService, ledger, logger),
		Bookings: bookingHandler,
		Payments: handlers.NewPaymentHandler(orchestrator, logger),
		Buses:    handlers.NewBusHandler(busService, logger),
		Admin:    handlers.NewAdminHandler(busService, cronService, logger),
	}, jwtService, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop background work after the last request has drained
	logger.Info("Stopping background services...")
	cronService.Stop()
	sweeper.Stop()

	logger.Info("Server exited successfully")
}

// openStores builds the persistence layer selected by STORAGE_DRIVER
func openStores(cfg *config.Config, logger *logrus.Logger) (*stores, error) {
	if cfg.Database.StorageDriver == "memory" {
		logger.Warn("Using in-memory storage - all bookings are lost on restart")
		mem := database.NewMemoryStore()
		return &stores{
			ledger:      mem,
			attempts:    mem,
			audits:      mem,
			buses:       mem,
			assignments: mem,
			health:      func(ctx context.Context) error { return nil },
			close:       func() error { return nil },
		}, nil
	}

	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Health(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	return &stores{
		ledger:      database.NewLedgerRepository(db.DB),
		attempts:    database.NewAttemptRepository(db.DB),
		audits:      database.NewPaymentAuditRepository(db.DB, logger),
		buses:       database.NewBusRepository(db.DB),
		assignments: database.NewAssignmentRepository(db.DB),
		health:      db.Health,
		close:       db.Close,
	}, nil
}

// newSMSSender picks the Dialog campaign URL method when an API key is
// configured, otherwise the login based eSMS API
func newSMSSender(cfg config.NotificationConfig) sms.Sender {
	if cfg.DialogAPIKey != "" {
		return sms.NewDialogURLGateway(cfg.DialogAPIURL, cfg.DialogAPIKey, cfg.DialogMask)
	}
	return sms.NewDialogGateway(sms.DialogConfig{
		APIURL:   cfg.DialogAPIURL,
		Username: cfg.DialogUsername,
		Password: cfg.DialogPassword,
		Mask:     cfg.DialogMask,
	})
}
