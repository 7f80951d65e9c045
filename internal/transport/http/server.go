package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appsvc "docscribe/internal/app"
	"docscribe/internal/bootstrap"
	"docscribe/internal/cache"
	"docscribe/internal/platform/rabbitmq"
	"docscribe/internal/repository"
	"docscribe/internal/transport/http/handler"
	"docscribe/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())
	router.Use(cors.New(corsConfig(app.Config.App.AllowedOrigins)))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	documentRepo := repository.NewDocumentRepository(app.MySQL)
	sessionRepo := repository.NewChatSessionRepository(app.MySQL)
	messageRepo := repository.NewChatMessageRepository(app.MySQL)
	chunkRepo := repository.NewDocumentChunkRepository(app.MySQL)

	historyCache := cache.NewHistoryCache(app.Redis, time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second)
	ingestPublisher := rabbitmq.NewIngestPublisher(app.MQConn, app.Config.RabbitMQ.DocumentIngestQueue)

	tokenTTL := time.Duration(app.Config.Auth.JWTExpireMinute) * time.Minute
	authService := appsvc.NewAuthService(userRepo, app.Config.Auth.JWTSecret, tokenTTL)
	documentService := appsvc.NewDocumentService(
		documentRepo,
		app.Files,
		ingestPublisher,
		app.Facade,
		app.Logger,
		app.Config.MaxUploadBytes(),
		app.Config.Upload.AllowedExtensions,
		app.Config.LLM.ContextMaxChars,
	)
	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		documentRepo,
		chunkRepo,
		historyCache,
		app.Facade,
		app.Config.LLM.MaxContextMessage,
		app.Config.LLM.ContextMaxChars,
		app.Config.LLM.TopK,
	)

	authHandler := handler.NewAuthHandler(authService, tokenTTL)
	documentHandler := handler.NewDocumentHandler(documentService, app.Config.MaxUploadBytes())
	chatHandler := handler.NewChatHandler(chatService)

	authRequired := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", authRequired, authHandler.Me)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(authRequired)
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.POST("/:id/summarize", documentHandler.Summarize)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(authRequired)
	chatGroup.POST("/sessions", chatHandler.StartSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.POST("/messages", chatHandler.PostMessage)
	chatGroup.POST("/messages/stream", chatHandler.StreamMessage)
	chatGroup.GET("/history", chatHandler.History)

	return router
}

// corsConfig reflects any origin when no allow list is configured. The cookie
// flow needs AllowCredentials, which rules out a literal wildcard.
func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowOrigins = allowedOrigins
		return cfg
	}
	cfg.AllowOriginFunc = func(origin string) bool { return true }
	return cfg
}
