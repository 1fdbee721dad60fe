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
	"github.com/mindhaven/counseling-backend/internal/config"
	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/handlers"
	"github.com/mindhaven/counseling-backend/internal/middleware"
	"github.com/mindhaven/counseling-backend/internal/services"
	"github.com/mindhaven/counseling-backend/pkg/jwt"
	"github.com/mindhaven/counseling-backend/pkg/mailer"
	"github.com/sirupsen/logrus"
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

	logger.Info("Starting MindHaven Counseling Backend")
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

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Repositories need *sqlx.DB, db is the DB interface
	pgDB, ok := db.(*database.PostgresDB)
	if !ok {
		logger.Fatal("Failed to cast database connection to PostgresDB")
	}
	sqlxDB := pgDB.DB

	// Initialize repositories
	bookingRepo := database.NewBookingRepository(sqlxDB, logger)
	ledgerRepo := database.NewPaymentLedgerRepository(sqlxDB, logger)
	settlementRepo := database.NewSettlementRepository(sqlxDB, logger)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)
	userRepo := database.NewUserRepository(sqlxDB)
	counselorRepo := database.NewCounselorRepository(sqlxDB)
	notificationRepo := database.NewNotificationRepository(sqlxDB)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)
	vnpayService := services.NewVNPayService(cfg.VNPay, logger)

	// Initialize mail gateway
	var mail mailer.Mailer
	if cfg.Mail.Mode == "production" {
		logger.Info("Initializing mail gateway in production mode")
		mail = mailer.NewHTTPMailer(mailer.Config{
			APIURL:      cfg.Mail.APIURL,
			APIKey:      cfg.Mail.APIKey,
			SenderEmail: cfg.Mail.SenderEmail,
			SenderName:  cfg.Mail.SenderName,
		})
	} else {
		logger.Info("Mail gateway in development mode (no actual mail will be sent)")
		mail = mailer.NewDevMailer()
	}

	notificationService := services.NewNotificationService(notificationRepo, userRepo, counselorRepo, mail, logger)
	paymentService := services.NewPaymentService(
		bookingRepo,
		ledgerRepo,
		settlementRepo,
		auditRepo,
		vnpayService,
		notificationService,
		logger,
	)
	expirationService := services.NewBookingExpirationService(bookingRepo, notificationRepo, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(expirationService, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Cron service started, unpaid booking expiration enabled")

	logger.Info("Services initialized")

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userRepo, jwtService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingRepo, counselorRepo, cfg.VNPay.PaymentExpiry, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, vnpayService, auditRepo, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Authentication routes (public)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
		}

		// Gateway callback routes. These MUST stay public: the gateway and
		// the returning browser carry no bearer token, authenticity comes
		// from the HMAC signature on the query string.
		payments := v1.Group("/payments")
		{
			payments.GET("/vnpay/ipn", paymentHandler.IPN)
			payments.GET("/vnpay/return", paymentHandler.Return)
		}

		// Authenticated routes
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService))
		{
			protected.GET("/counselors", bookingHandler.ListCounselors)

			protected.POST("/bookings", bookingHandler.CreateBooking)
			protected.GET("/bookings", bookingHandler.ListMyBookings)
			protected.GET("/bookings/:booking_id", bookingHandler.GetBooking)
			protected.POST("/bookings/:booking_id/cancel", bookingHandler.CancelBooking)

			protected.POST("/payments/bookings/:booking_id/checkout", paymentHandler.Checkout)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	// Stop cron service
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		// Add user context if available
		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
			fields["role"] = userCtx.Role
		}

		entry := logger.WithFields(fields)

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
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
