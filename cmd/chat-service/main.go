package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chatrelay-backend/internal/database"
	conversationHandler "chatrelay-backend/internal/handler/http/conversation"
	friendshipHandler "chatrelay-backend/internal/handler/http/friendship"
	notificationHandler "chatrelay-backend/internal/handler/http/notification"
	requestHandler "chatrelay-backend/internal/handler/http/request"
	userHandler "chatrelay-backend/internal/handler/http/user"
	wsHandler "chatrelay-backend/internal/handler/ws"
	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/repository/cassandra"
	"chatrelay-backend/internal/repository/cockroach"
	"chatrelay-backend/internal/repository/redis"
	conversationService "chatrelay-backend/internal/service/conversation"
	friendshipService "chatrelay-backend/internal/service/friendship"
	notificationService "chatrelay-backend/internal/service/notification"
	requestService "chatrelay-backend/internal/service/request"
	"chatrelay-backend/internal/service/storage"
	userService "chatrelay-backend/internal/service/user"
	"chatrelay-backend/pkg/ai"
	"chatrelay-backend/pkg/config"
	"chatrelay-backend/pkg/env"
	"chatrelay-backend/pkg/jwt"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Setup logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		ServiceName: cfg.Server.ServiceName,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Connect to CockroachDB
	cockroachDB, err := database.NewCockroachDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))

	// 4. Connect to Cassandra
	cassandraDB, err := database.NewCassandraDB(cfg.Cassandra,
		env.GetStringFromFile("CASSANDRA_USER", ""),
		env.GetStringFromFile("CASSANDRA_PASSWORD", ""))
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra", zap.String("keyspace", cfg.Cassandra.Keyspace))

	// 5. Connect to Redis; an unreachable Redis starts the client in degraded mode
	redisDB := database.NewRedisDB(cfg.Redis)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, starting degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	}
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 6. Initialize repositories
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	friendshipRepo := cockroach.NewFriendshipRepository(cockroachDB.Pool)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	requestRepo := cockroach.NewConversationRequestRepository(cockroachDB.Pool)
	notificationRepo := cockroach.NewNotificationRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB)
	presenceRepo := redis.NewPresenceRepository(redisDB)
	fanoutRepo := redis.NewFanoutRepository(redisDB)
	lockRepo := redis.NewLockRepository(redisDB)
	rateLimitRepo := redis.NewRateLimitRepository(redisDB)

	// 7. Initialize services
	userSvc := userService.NewService(userRepo)
	notificationSvc := notificationService.NewService(notificationRepo)
	friendshipSvc := friendshipService.NewService(friendshipRepo, userRepo, notificationSvc)

	var responder conversationService.Responder
	aiUserID, err := userSvc.ResolveSystemUser(ctx, cfg.AI.SystemEmail)
	if err != nil {
		logger.Fatal("Failed to resolve AI account", zap.Error(err))
	}
	if cfg.AI.Enabled {
		responder = ai.NewClient(cfg.AI.ServiceURL, cfg.AI.Timeout)
		logger.Info("AI responder enabled",
			zap.String("url", cfg.AI.ServiceURL),
			zap.String("ai_user_id", aiUserID.String()))
	}

	var pictures conversationService.PictureStore
	if objects, err := storage.NewMinioClient(ctx, cfg.MinIO); err != nil {
		logger.Warn("MinIO unavailable, group pictures disabled", zap.Error(err))
	} else {
		pictures = storage.NewPictureStore(objects, cfg.MinIO.Bucket, cfg.MinIO.PublicURL)
	}

	conversationSvc := conversationService.NewService(conversationService.Dependencies{
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Users:         userRepo,
		Friendships:   friendshipSvc,
		Requests:      requestRepo,
		Responder:     responder,
		Pictures:      pictures,
		Locker:        lockRepo,
	}, aiUserID)

	requestSvc := requestService.NewService(requestService.Dependencies{
		Requests:      requestRepo,
		Users:         userRepo,
		Friendships:   friendshipSvc,
		Conversations: conversationSvc,
		Locker:        lockRepo,
		Notifier:      notificationSvc,
	})

	// 8. Initialize metrics and JWT
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenDuration)

	// 9. Initialize the realtime hub
	hub := wsHandler.NewHub(wsHandler.Dependencies{
		Conversations: conversationSvc,
		Requests:      requestSvc,
		Presence:      presenceRepo,
		Users:         userRepo,
		Fanout:        fanoutRepo,
		Notifier:      notificationSvc,
		Tokens:        jwtManager,
	}, cfg.Hub)
	requestSvc.SetPusher(hub)
	go hub.Run(ctx)

	// 10. Initialize handlers
	friendshipHdlr := friendshipHandler.NewHandler(friendshipSvc)
	requestHdlr := requestHandler.NewHandler(requestSvc)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc, hub)
	notificationHdlr := notificationHandler.NewHandler(notificationSvc)
	userHdlr := userHandler.NewHandler(userSvc)

	// 11. Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to reset trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// browsers cannot set headers on the upgrade, the hub reads the token itself
	router.GET("/ws", hub.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(rateLimitRepo, cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Window)
		v1.Use(limiter.Middleware())
	}
	friendshipHdlr.RegisterRoutes(v1)
	requestHdlr.RegisterRoutes(v1)
	conversationHdlr.RegisterRoutes(v1)
	notificationHdlr.RegisterRoutes(v1)
	userHdlr.RegisterRoutes(v1)

	// 12. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Chat service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 13. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	hub.Close()
	stop()

	logger.Info("Server exited")
}
