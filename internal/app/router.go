package app

import (
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"reelkit.io/reelkit/internal/api/handlers"
	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

// defaultAllowedOrigins is the allowlist used when none is configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	server.Register(router.Group("/api/v1"))
	return router
}

// buildCORSConfig turns the server settings into a CORS policy. A "*" origin
// is only honoured with the unsafe flag, and never together with
// credentials. An empty allowlist falls back to defaultAllowedOrigins.
func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" || slices.Contains(origins, o) {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = slices.Clone(defaultAllowedOrigins)
	}
	out.AllowOrigins = origins
	return out
}
