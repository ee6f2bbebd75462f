package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/config"
	"github.com/tourhub/booking-backend/internal/database"
	"github.com/tourhub/booking-backend/internal/handlers"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
	"github.com/tourhub/booking-backend/internal/services"
	"github.com/tourhub/booking-backend/pkg/jwt"
	"github.com/tourhub/booking-backend/pkg/mq"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TourHub booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories
	serviceRepo := database.NewServiceRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	transactionRepo := database.NewTransactionRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	eventRepo := database.NewPaymentEventRepository(db.DB, logger)
	notificationRepo := database.NewNotificationRepository(db.DB)

	// Notification relay is optional
	var publisher services.EventPublisher
	if cfg.Relay.URL != "" {
		mqPublisher, err := mq.NewPublisher(cfg.Relay.URL, cfg.Relay.Exchange)
		if err != nil {
			logger.WithError(err).Warn("Notification relay unavailable, notifications are stored only")
		} else {
			defer mqPublisher.Close()
			publisher = mqPublisher
			logger.WithField("exchange", cfg.Relay.Exchange).Info("Notification relay connected")
		}
	}

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	notificationService := services.NewNotificationService(notificationRepo, publisher, cfg.Relay.RoutingKey, logger)
	ledger := services.NewCapacityLedger(serviceRepo, logger)
	calendarService := services.NewCalendarService(db.DB, serviceRepo, logger)
	bookingService := services.NewBookingService(db.DB, bookingRepo, serviceRepo, ledger, notificationService, logger)
	transactionService := services.NewTransactionService(
		db.DB,
		transactionRepo,
		paymentRepo,
		bookingService,
		eventRepo,
		notificationService,
		cfg.Receipts,
		logger,
	)
	flutterwaveService := services.NewFlutterwaveService(&cfg.Payment, logger)
	reconcilerService := services.NewReconcilerService(
		transactionService,
		flutterwaveService,
		paymentRepo,
		bookingService,
		eventRepo,
		cfg.Payment.WebhookSecretHash,
		logger,
	)
	paymentService := services.NewPaymentService(
		&cfg.Payment,
		bookingService,
		bookingRepo,
		transactionService,
		reconcilerService,
		logger,
	)

	if cfg.Payment.WebhookSecretHash == "" {
		logger.Warn("FLUTTERWAVE_SECRET_HASH is not set, every webhook will be rejected")
	}

	rateLimiter := services.NewRateLimitService(db.DB, services.DefaultRateLimitConfig())

	// Scheduler
	cronService := services.NewCronService(reconcilerService, cfg.Reconcile.Schedule, logger)
	// "0 0 * * * *" = hourly
	cronService.AddCleanup("guest_access_attempts", "0 0 * * * *", rateLimiter)
	if cfg.Reconcile.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		defer cronService.Stop()
	}

	logger.Info("Services initialized")

	// Handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	calendarHandler := handlers.NewCalendarHandler(calendarService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, transactionService, reconcilerService, logger)
	notificationHandler := handlers.NewNotificationHandler(notificationService, logger)
	adminHandler := handlers.NewAdminHandler(reconcilerService, transactionService, eventRepo, cronService, logger)

	// Initialize Gin router
	router := gin.New()
	router.MaxMultipartMemory = cfg.Receipts.MaxBytes + 1<<20

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     append(cfg.CORS.AllowedHeaders, "verif-hash"),
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))

	authRequired := middleware.AuthMiddleware(jwtService, logger)
	authOptional := middleware.OptionalAuth(jwtService, logger)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	v1 := router.Group("/api/v1")
	{
		// Bookings
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", authOptional, bookingHandler.Create)
			bookings.GET("/mine", authRequired, bookingHandler.ListMine)
			bookings.GET("/guest/:id", middleware.GuestRateLimit(rateLimiter, "id", logger), bookingHandler.GuestLookup)
			bookings.GET("/:id", authRequired, bookingHandler.Get)
			bookings.POST("/:id/cancel", authRequired, bookingHandler.Cancel)
			bookings.POST("/:id/status", authRequired, adminOnly, bookingHandler.UpdateStatus)
			bookings.POST("/:id/reject", authRequired, adminOnly, bookingHandler.Reject)
		}

		// Public availability calendar
		v1.GET("/services/:slug/calendar", calendarHandler.GetCalendar)

		// Operator tools
		operator := v1.Group("/operator")
		operator.Use(authRequired, middleware.RequireRole(models.RoleOperator, models.RoleAdmin))
		{
			operator.GET("/bookings", bookingHandler.ListForOperator)
			operator.POST("/services/:id/availabilities", calendarHandler.CreateAvailability)
			operator.POST("/availabilities/:id/slots", calendarHandler.CreateTimeSlot)
		}

		// Payments
		payments := v1.Group("/payments")
		{
			payments.POST("/initialize/:booking_id", authOptional,
				middleware.GuestRateLimit(rateLimiter, "booking_id", logger), paymentHandler.Initialize)
			payments.GET("/success", paymentHandler.Success)
			payments.GET("/cancelled", paymentHandler.Cancelled)
			payments.POST("/webhook", paymentHandler.Webhook)
			payments.POST("/webhook/", paymentHandler.Webhook)
			payments.GET("/status/:reference", paymentHandler.Status)

			bank := payments.Group("/bank")
			{
				bank.POST("/init/:booking_id", authRequired, paymentHandler.InitBankTransfer)
				bank.POST("/receipt/:reference", authRequired, paymentHandler.UploadReceipt)
				bank.POST("/approve/:reference", authRequired, adminOnly, paymentHandler.ApproveBankTransfer)
				bank.POST("/reject/:reference", authRequired, adminOnly, paymentHandler.RejectBankTransfer)
			}
		}

		// Notifications
		notifications := v1.Group("/notifications")
		notifications.Use(authRequired)
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
		}

		// Admin
		admin := v1.Group("/admin")
		admin.Use(authRequired, adminOnly)
		{
			admin.GET("/bookings", bookingHandler.ListAll)
			admin.GET("/notifications", notificationHandler.ListBroadcast)
			admin.GET("/transactions", adminHandler.ListTransactions)
			admin.GET("/transactions/:reference/events", adminHandler.TransactionEvents)
			admin.POST("/transactions/:reference/verify", adminHandler.VerifyTransaction)
			admin.POST("/transactions/:reference/mark-success", adminHandler.MarkSuccess)
			admin.GET("/payment-events", adminHandler.EventsByType)
			admin.POST("/reconcile/run", adminHandler.RunReconcile)
			admin.GET("/reconcile/status", adminHandler.ReconcileStatus)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
