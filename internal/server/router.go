package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/sceneforge-backend/internal/handlers"
	"github.com/yungbote/sceneforge-backend/internal/middleware"
	"github.com/yungbote/sceneforge-backend/internal/realtime"
)

type RouterConfig struct {
	HealthHandler   *handlers.HealthHandler
	SceneGenHandler *handlers.SceneGenHandler
	Hub             *realtime.Hub

	// APILimiter guards the whole REST surface; GenerateLimiter adds a
	// tighter budget on the endpoints that start renders.
	APILimiter      *middleware.RateLimiter
	GenerateLimiter *middleware.RateLimiter
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("sceneforge"))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Internal-Request"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", cfg.HealthHandler.Check)
	router.GET("/socket.io", func(c *gin.Context) {
		cfg.Hub.ServeWS(c.Writer, c.Request)
	})

	api := router.Group("/api/v1/scenes")
	if cfg.APILimiter != nil {
		api.Use(cfg.APILimiter.Middleware())
	}
	{
		api.GET("", cfg.SceneGenHandler.List)
		api.GET("/:id", cfg.SceneGenHandler.Get)
		api.GET("/:id/scenario", cfg.SceneGenHandler.GetScenario)
		api.PUT("/:id/scenario", cfg.SceneGenHandler.PutScenario)
		api.DELETE("/:id", cfg.SceneGenHandler.Cancel)
		api.GET("/:id/scenes/:sceneId/debug-frames", cfg.SceneGenHandler.DebugFrames)

		heavy := api.Group("")
		if cfg.GenerateLimiter != nil {
			heavy.Use(cfg.GenerateLimiter.Middleware())
		}
		heavy.POST("/generate", cfg.SceneGenHandler.Generate)
		heavy.POST("/:id/continue", cfg.SceneGenHandler.Continue)
		heavy.POST("/:id/scenes/:sceneId/regenerate", cfg.SceneGenHandler.RegenerateScene)
	}

	return router
}
