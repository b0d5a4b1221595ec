package server

import (
	"net/http"

	"relaychat/internal/auth"
	"relaychat/internal/config"
	"relaychat/internal/metrics"
	"relaychat/internal/mw"
	"relaychat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.ClientURL))
	r.Use(mw.RateLimit(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Serve(hub, ws.ServeConfig{
		Env:             cfg.Env,
		ClientURL:       cfg.ClientURL,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}))

	api := r.Group("/api/v1")
	api.Use(auth.AuthMiddleware(auth.NewJWTVerifier(cfg.JWTSecret)))
	api.GET("/messages/:userId", h.History)
	api.GET("/people", h.People)
	api.GET("/profile", h.Profile)
	api.GET("/online", h.Online)
	return r
}
