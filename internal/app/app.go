package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lifecycleHTTP "postline/internal/controller/http"
	"postline/internal/publisher"
	"postline/internal/repo/persistent"
	"postline/internal/scheduler"
	"postline/internal/usecase"
	"postline/pkg/config"
	"postline/pkg/jwt"
	"postline/pkg/logger"
	"postline/pkg/middleware"
	"postline/pkg/queue"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "postline/docs" // Swagger docs
)

func Run(cfg *config.Config, log *logger.Logger, db *gorm.DB, redisClient *redis.Client, queueClient *queue.Client) {
	jwtService := jwt.NewService(cfg.JWTSecret)

	// Initialize repositories
	postRepo := persistent.NewPostRepository(db)

	// Initialize use cases
	lifecycleUseCase := usecase.NewLifecycleUseCase(postRepo, redisClient, queueClient, log)

	if err := usecase.StartAuditTrail(queueClient, log); err != nil {
		log.Warn("Failed to start audit trail consumer: %v", err)
	}

	// Initialize the publishing pipeline
	platformPublisher := publisher.NewPlatformPublisher(cfg)
	sched := scheduler.New(postRepo, lifecycleUseCase, platformPublisher, log, cfg)

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if cfg.SchedulerEnabled {
		go sched.Run(schedCtx)
	} else {
		log.Warn("Scheduler disabled, due posts will not be published by this instance")
	}

	// Initialize HTTP handlers
	lifecycleHandler := lifecycleHTTP.NewLifecycleHandler(lifecycleUseCase, log)

	// Setup router
	r := gin.Default()

	// CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000", "*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService))
	api.Use(middleware.RateLimitMiddleware(redisClient, 100, time.Minute))

	{
		api.POST("/posts", lifecycleHandler.CreateDraft)
		api.GET("/posts/:id", lifecycleHandler.GetPost)
		api.GET("/posts", lifecycleHandler.ListPosts)
		api.PUT("/posts/:id", lifecycleHandler.EditPost)
		api.DELETE("/posts/:id", lifecycleHandler.DeletePost)
		api.POST("/posts/:id/submit", lifecycleHandler.SubmitForReview)
		api.POST("/posts/:id/approve", lifecycleHandler.ApprovePost)
		api.POST("/posts/:id/reject", lifecycleHandler.RejectPost)
		api.POST("/posts/:id/schedule", lifecycleHandler.SchedulePost)
		api.POST("/posts/:id/unschedule", lifecycleHandler.UnschedulePost)
		api.POST("/posts/:id/retry", lifecycleHandler.RetryPost)
		api.POST("/posts/:id/archive", lifecycleHandler.ArchivePost)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Postline starting on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server: %v", err)
			panic(err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	// Stop the scheduler before closing its dependencies
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Close database connection
	sqlDB, err := db.DB()
	if err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error("Error closing database: %v", err)
		}
	}

	// Close Redis connection
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis: %v", err)
		}
	}

	// Close RabbitMQ connection
	if queueClient != nil {
		queueClient.Close()
	}

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
		panic(err)
	}

	log.Info("Postline exited")
}
