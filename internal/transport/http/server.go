package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/auth"
	"github.com/vovakirdan/parley/internal/config"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/service/calls"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/service/drafts"
	"github.com/vovakirdan/parley/internal/service/messages"
)

// Services bundles what the transport layer dispatches to.
type Services struct {
	Auth     *auth.Service
	Messages *messages.Service
	Chats    *chats.Service
	Drafts   *drafts.Service
	Calls    *calls.Service
}

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(hub *core.Hub, svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(hub, svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler builds the routed handler wrapped with CORS.
func NewHandler(hub *core.Hub, svc Services, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(svc.Auth, logger)
	chatHandlers := NewChatHandlers(svc.Chats, svc.Messages, logger)
	callHandlers := NewCallHandlers(svc.Calls, chatHandlers, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(svc.Auth, logger))
	{
		protected.GET("/chats", chatHandlers.ListChats)
		protected.GET("/chats/:id", chatHandlers.GetChat)
		protected.GET("/chats/:id/messages", chatHandlers.History)
		protected.GET("/calls/:id", callHandlers.GetCall)
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, svc, cfg, logger)))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		MaxAge:           300,
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
