package http

import (
	"context"
	"net/http"

	"github.com/dkeye/concort/internal/adapters/signal"
	"github.com/dkeye/concort/internal/app"
	"github.com/dkeye/concort/internal/auth"
	"github.com/dkeye/concort/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionName = "ConcortSessions"

// Deps is everything the router dispatches to.
type Deps struct {
	Engine      *app.Engine
	Broadcaster *app.Broadcaster
	Tokens      *auth.Tokens
	Chat        *signal.ChatWSController
}

type handlers struct {
	cfg  *config.Config
	deps Deps
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{cfg: cfg, deps: deps}

	r.GET("/health", h.health)

	api := r.Group("/api")
	if cfg.DevLogin {
		api.POST("/dev/login", h.devLogin)
		log.Warn().Str("module", "adapters.http").Msg("dev login enabled")
	}
	api.POST("/matches/process-queue", h.requireAdmin, h.processQueue)

	authed := api.Group("", h.requireParticipant)
	authed.GET("/me", h.me)
	authed.PUT("/me/profile", h.updateProfile)
	authed.POST("/queue/join", h.joinQueue)
	authed.GET("/queue/status", h.queueStatus)
	authed.GET("/users/:id", h.getUser)
	authed.GET("/matches", h.listMatches)
	authed.GET("/matches/:id", h.getMatch)
	authed.POST("/matches/:id/end", h.endMatch)
	authed.GET("/chat/:id/messages", h.history)
	authed.POST("/chat/:id/messages", h.sendMessage)
	authed.POST("/chat/:id/read", h.markRead)

	r.GET("/ws/chat/:id", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("match", c.Param("id")).Msg("ws chat endpoint hit")
		deps.Chat.HandleChat(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("dev_login", cfg.DevLogin).Msg("router setup")
	return r
}
