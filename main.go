package main

import (
	"fmt"
	"log"
	"os"

	apirest "github.com/eroomgame/eroom-server/api/rest"
	"github.com/eroomgame/eroom-server/api/sse"
	"github.com/eroomgame/eroom-server/audit"
	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/config"
	dbadapter "github.com/eroomgame/eroom-server/db"
	"github.com/eroomgame/eroom-server/messaging"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/notify"
	"github.com/eroomgame/eroom-server/profile"
	"github.com/eroomgame/eroom-server/scheduler"
	"github.com/eroomgame/eroom-server/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(nil)

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Services ----
	profileSvc := profile.NewService(db, logger)
	notifySvc := notify.NewService(db, pubsub, logger)
	socialSvc := social.NewService(db, notifySvc, logger)
	messagingSvc := messaging.NewService(db, c, pubsub, socialSvc, notifySvc,
		cfg.Messaging.HistoryCacheSize, logger)

	// ---- Periodic Scheduler Tasks ----
	reconciler := social.NewReconciler(db, logger)
	sched.AddTicker("social_reconcile", cfg.Social.ReconcileInterval, reconciler.Run)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, profileSvc, c, cfg.Security, cfg.Social, logger)
	userH := apirest.NewUserHandler(profileSvc)
	socialH := apirest.NewSocialHandler(socialSvc, c, auditSvc)
	convH := apirest.NewConversationHandler(messagingSvc, socialSvc, auditSvc, cfg.Messaging.PageSize)
	notifH := apirest.NewNotificationHandler(notifySvc)
	adminH := apirest.NewAdminHandler(db, c, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/login/federated", authH.LoginFederated)
		authG.POST("/password-reset", authH.RequestPasswordReset)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		usersG := api.Group("/users")
		usersG.Use(mw.Auth(cfg.Security, c))
		usersG.GET("/me", userH.Me)
		usersG.PUT("/me", userH.UpdateMe)
		usersG.GET("/:username", userH.ByUsername)

		socialG := api.Group("/social")
		socialG.Use(mw.Auth(cfg.Security, c))
		socialG.GET("/friends", socialH.ListFriends)
		socialG.DELETE("/friends/:id", socialH.RemoveFriend)
		socialG.POST("/friends/request", socialH.SendFriendRequest)
		socialG.GET("/friends/requests", socialH.ListFriendRequests)
		socialG.POST("/friends/requests/:id", socialH.RespondFriendRequest)
		socialG.GET("/followers", socialH.ListFollowers)
		socialG.GET("/following", socialH.ListFollowing)
		socialG.POST("/follow/:id", socialH.Follow)
		socialG.DELETE("/follow/:id", socialH.Unfollow)
		socialG.GET("/blocked", socialH.ListBlocked)
		socialG.POST("/block/:id", socialH.ToggleBlock)

		convG := api.Group("/conversations")
		convG.Use(mw.Auth(cfg.Security, c))
		convG.POST("", convH.Open)
		convG.GET("", convH.List)
		convG.GET("/:id", convH.Get)
		convG.GET("/:id/messages", convH.Messages)
		convG.POST("/:id/messages", convH.Send)
		convG.GET("/:id/history", convH.History)
		convG.POST("/:id/read", convH.MarkRead)
		convG.POST("/:id/messages/:msg_id/reactions", convH.React)

		notifG := api.Group("/notifications")
		notifG.Use(mw.Auth(cfg.Security, c))
		notifG.GET("", notifH.List)
		notifG.GET("/unread", notifH.UnreadCount)
		notifG.POST("/:id/read", notifH.MarkRead)
		notifG.POST("/read-all", notifH.MarkAllRead)
		notifG.DELETE("", notifH.ClearAll)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/online", adminH.ListOnline)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/events", sseH.ServeEvents)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
