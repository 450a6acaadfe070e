// Package main runs the course platform HTTP server with an optional in-process worker and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursehub/backend/config"
	"github.com/coursehub/backend/internal/analytics"
	"github.com/coursehub/backend/internal/auth"
	"github.com/coursehub/backend/internal/courses"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/faculty"
	"github.com/coursehub/backend/internal/metrics"
	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/payments"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/internal/worker"
	"github.com/coursehub/backend/pkg/database"
	"github.com/coursehub/backend/pkg/queue"
	"github.com/coursehub/backend/pkg/redis"
	"github.com/coursehub/backend/pkg/response"
	"github.com/coursehub/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.RedisOptions(), logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.ReceiptsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReceiptsBucket:       cfg.AWS.ReceiptsBucket,
			Endpoint:             cfg.AWS.S3Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	razorpay := payments.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret, cfg.Razorpay.BaseURL, logger)
	if !razorpay.Enabled() {
		logger.Warn("razorpay not configured, checkout returns quotes only and paid enrollments are refused")
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	if err := auth.EnsureAdmin(ctx, authRepo, cfg.Admin.Email, cfg.Admin.Password, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	// Referral authorities
	courseRepo := courses.NewRepository(pool, logger)
	facultyRepo := faculty.NewRepository(pool, logger)
	var promoAuthority pricing.PromoAuthority = courseRepo
	var promoCache courses.PromoInvalidator
	if cfg.Pricing.PromoCacheTTL > 0 {
		cached := courses.NewCachedPromoAuthority(courseRepo, rdb.Client, cfg.Pricing.PromoCacheTTL, logger)
		promoAuthority, promoCache = cached, cached
	}
	validator := pricing.NewValidator(facultyRepo, promoAuthority, m, logger)
	facultyValidator := pricing.NewValidator(facultyRepo, nil, m, logger)

	// Enrollments
	enrollmentRepo := enrollments.NewRepository(pool)
	recorder := enrollments.NewRecorder(enrollmentRepo, m, logger)
	enrollmentService := enrollments.NewService(courseRepo, validator, recorder, enrollmentRepo, jobQueue, logger)
	var receiptSigner enrollments.ReceiptSigner
	if s3Client != nil {
		receiptSigner = s3Client
	}
	enrollmentHandler := enrollments.NewHandler(enrollmentService, enrollmentRepo, razorpay, receiptSigner, logger)

	courseHandler := courses.NewHandler(courseRepo, validator, promoCache, logger)
	facultyHandler := faculty.NewHandler(facultyRepo, facultyValidator, logger)
	paymentHandler := payments.NewHandler(courseRepo, validator, enrollmentRepo, razorpay, enrollmentService, logger)
	analyticsHandler := analytics.NewHandler(courseRepo, enrollmentRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := gin.H{"postgres": "ok", "redis": "ok"}
		healthy := true
		if err := pool.Ping(hctx); err != nil {
			deps["postgres"], healthy = "down", false
		}
		if err := rdb.Healthy(hctx); err != nil {
			deps["redis"], healthy = "down", false
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: deps, Error: "dependency unavailable"})
			return
		}
		response.OK(c, gin.H{"status": "ok", "deps": deps})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public catalog, quotes and referral checks
	router.GET("/courses", middleware.OptionalJWT(jwtService), courseHandler.List)
	router.GET("/courses/:id", middleware.OptionalJWT(jwtService), courseHandler.GetByID)
	router.POST("/courses/verify-referral", courseHandler.VerifyReferral)
	router.POST("/courses/:id/quote", paymentHandler.Quote)
	router.POST("/faculty/validate-referral", facultyHandler.ValidateReferral)

	// Webhooks (no JWT; signature checked in handler)
	router.POST("/webhooks/razorpay", paymentHandler.Webhook)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/courses/:id/checkout", paymentHandler.Checkout)
		api.POST("/students/:id/enroll", enrollmentHandler.Enroll)
		api.GET("/students/:id/enrollments", enrollmentHandler.ListByStudent)
		api.GET("/enrollments/:id/receipt-url", enrollmentHandler.ReceiptURL)
		api.GET("/faculty/me/commissions", middleware.RequireRole(models.RoleFaculty), facultyHandler.MyCommissions)
	}

	// Admin API
	admin := router.Group("")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/courses", courseHandler.Create)
		admin.PATCH("/courses/:id", courseHandler.Update)
		admin.POST("/promo-codes", courseHandler.CreatePromo)
		admin.GET("/promo-codes", courseHandler.ListPromos)
		admin.PATCH("/promo-codes/:code/active", courseHandler.SetPromoActive)

		admin.POST("/faculty", facultyHandler.Create)
		admin.GET("/faculty", facultyHandler.List)
		admin.PATCH("/faculty/:id/active", facultyHandler.SetActive)
		admin.GET("/faculty/:id/commissions", facultyHandler.Commissions)
		admin.POST("/faculty/:id/payout", facultyHandler.Payout)

		admin.GET("/admin/students", authHandler.ListStudents)
		admin.GET("/admin/courses/:id/analytics", analyticsHandler.GetByCourse)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (commission accrual, receipts)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Worker.RunInServer {
		wcfg := worker.Config{
			Enrollments:       enrollmentRepo,
			Courses:           courseRepo,
			Commissions:       facultyRepo,
			Queue:             jobQueue,
			Observer:          m,
			CommissionPercent: cfg.Pricing.FacultyCommissionPercent,
			Logger:            logger,
		}
		if s3Client != nil {
			wcfg.Receipts = s3Client
		}
		go worker.NewEnrollmentProcessor(wcfg).Run(workerCtx)
		logger.Info("enrollment worker started in server")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
