package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sns-system/config"
	"sns-system/internal/handler"
	"sns-system/internal/model"
	"sns-system/internal/repository"
	"sns-system/internal/service"
	dbPkg "sns-system/pkg/db"
	"sns-system/pkg/jwt"
	"sns-system/pkg/logger"
	redisPkg "sns-system/pkg/redis"
	"sns-system/pkg/response"
	"sns-system/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	log.Info("=== SNS系统启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.String("redis_addr", cfg.Redis.Host),
		zap.Duration("presence_ttl", cfg.Presence.TTL),
		zap.String("empty_policy", cfg.Notification.EmptyPolicy),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	orm, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(orm,
		&model.User{}, &model.Friendship{}, &model.Notification{}, &model.NotificationContributor{},
	); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 4. 初始化Redis（在线状态、未读数缓存、跨进程推送）
	rdb, err := redisPkg.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal("Redis连接失败", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("Redis连接成功")

	presence := redisPkg.NewPresenceRegistry(rdb, cfg.Presence.KeyPrefix, cfg.Presence.TTL)
	unreadCache := redisPkg.NewUnreadCache(rdb, cfg.Notification.UnreadCacheTTL)
	relay := redisPkg.NewPushRelay(rdb, cfg.WebSocket.PushChannel)
	manager := websocket.NewManager()

	// 5. 初始化业务服务
	jwtSvc := jwt.NewJWTService(cfg.JWT)
	userRepo := repository.NewUserRepository(orm)
	friendshipRepo := repository.NewFriendshipRepository(orm)
	notificationRepo := repository.NewNotificationRepository(orm)

	notifier := service.NewNotifier(notificationRepo, presence, relay, unreadCache, cfg.Notification.DeliveryTimeout)
	userSvc := service.NewUserService(userRepo, jwtSvc)
	notificationSvc := service.NewNotificationService(orm, notificationRepo, userRepo, notifier, unreadCache, cfg.Notification)
	friendSvc := service.NewFriendService(orm, userRepo, friendshipRepo, notificationSvc)
	connectionSvc := service.NewConnectionService(presence, notifier)

	// 6. 启动推送订阅：只投递到本进程持有的连接
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go func() {
		if err := relay.Run(relayCtx, manager.Deliver); err != nil {
			log.Error("推送订阅退出", zap.Error(err))
		}
	}()

	// 7. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logger.RequestLogger())
	router.Use(logger.ErrorLoggerMiddleware())

	setupBasicRoutes(router, rdb)

	handler.RegisterRoutes(router.Group("/api/v1"), jwtSvc.AuthMiddleware(), jwt.ServiceTokenMiddleware(cfg.Server.ServiceToken), handler.Handlers{
		Users:         handler.NewUserHandler(userSvc),
		Friends:       handler.NewFriendHandler(friendSvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
	})

	// WebSocket路由
	wsHandler := websocket.NewHandler(manager, jwtSvc, connectionSvc, notificationSvc, cfg.WebSocket)
	router.GET("/ws", wsHandler.Serve)

	// 8. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}
	stopRelay()

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine, rdb *redis.Client) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "db-down"
		} else if err := redisPkg.HealthCheck(c.Request.Context(), rdb); err != nil {
			status = "redis-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "SNS社交关系与通知服务",
			"version": "1.0.0",
		})
	})
}
