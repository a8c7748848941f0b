package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/tgcalls/internal/adapters/signal"
	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	sessionName   = "TgCallsSession"
	sessionUserID = "user_id"
	apiPrefix     = "/api/v1"
)

// Deps are the application services the HTTP surface exposes.
type Deps struct {
	Users    *app.UserService
	Rooms    *app.RoomService
	Registry *app.Registry
	Signal   *signal.SignalWSController
}

type handler struct {
	cfg  *config.Config
	deps Deps
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Debug() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handler{cfg: cfg, deps: deps}

	r.GET("/", h.root)
	r.GET("/health", h.health)
	r.GET("/ws", h.signal)
	r.GET("/ws/stats", h.wsStats)

	api := r.Group(apiPrefix)
	api.POST("/auth/telegram", h.telegramAuth)
	api.GET("/users/online", h.listOnlineUsers)
	api.GET("/users/:user_id", h.getUser)
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:room_id", h.getRoom)
	api.POST("/rooms/:room_id/join", h.joinRoom)
	api.POST("/rooms/:room_id/leave", h.leaveRoom)
	api.GET("/config", h.iceConfig)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Strs("origins", cfg.AllowedOrigins).Msg("router setup")
	return r
}

// CORSMiddleware echoes allowed origins back with credentials enabled.
// "*" allows any origin.
func CORSMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := lo.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || lo.Contains(allowed, origin)) {
			hdr := c.Writer.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Credentials", "true")
			hdr.Add("Vary", "Origin")
			if c.Request.Method == http.MethodOptions {
				hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				reqHeaders := c.GetHeader("Access-Control-Request-Headers")
				if strings.TrimSpace(reqHeaders) == "" {
					reqHeaders = "Content-Type, Authorization"
				}
				hdr.Set("Access-Control-Allow-Headers", reqHeaders)
				hdr.Set("Access-Control-Max-Age", "600")
			}
		}
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
