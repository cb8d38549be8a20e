// Package http wires the gin engine: routes, middleware, and server
// lifecycle.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/interfaces/http/handlers"
	"github.com/turtacn/credcore/pkg/logger"
)

// Router owns the gin engine and the HTTP server lifecycle.
type Router struct {
	engine *gin.Engine
	cfg    config.ServerConfig
	log    logger.Logger
	server *http.Server
}

// NewRouter assembles the engine with all routes and middleware.
func NewRouter(
	cfg config.ServerConfig,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	middleware *handlers.Middleware,
	registry *prometheus.Registry,
	log logger.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	engine.Use(cors.New(corsConfig))

	engine.GET("/live", healthHandler.Liveness)
	engine.GET("/ready", healthHandler.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if cfg.EnablePprof {
		pprof.Register(engine)
	}

	v1 := engine.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", authHandler.CreateSession)
			sessions.GET("/verify", authHandler.VerifyAccess)
			sessions.POST("/logout", authHandler.Logout)
		}
		v1.POST("/tokens/refresh", authHandler.Refresh)

		users := v1.Group("/users")
		{
			users.DELETE("/:user_id/sessions", authHandler.MassRevoke)
			users.GET("/:user_id/devices", authHandler.ListDevices)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/keyring", healthHandler.KeyRingInfo)
			admin.POST("/keyring/rotate", healthHandler.RotateKey)
			admin.DELETE("/users/:user_id/ratelimit", authHandler.ResetRateLimit)
		}
	}

	return &Router{
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("http_server"),
	}
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port),
		Handler:      r.engine,
		ReadTimeout:  time.Duration(r.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(r.cfg.WriteTimeout) * time.Second,
	}

	r.log.Info(context.Background(), "http server listening", logger.String("addr", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
