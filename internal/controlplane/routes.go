package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vobby/vobby/internal/controlplane/middleware"
)

type RouteConfig struct {
	Auth middleware.TokenAuthConfig
	// RateLimit is a limiter formatted rate such as "20-S". Empty disables it.
	RateLimit string
}

func SetupRoutes(backend Backend, cfg *RouteConfig) (http.Handler, error) {
	r := gin.New()
	h := NewHandler(backend)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	if cfg.RateLimit != "" {
		limit, err := middleware.RateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	r.GET("/", h.Index)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(cfg.Auth))
	{
		v1.GET("/status", h.Status)
		v1.GET("/tree", h.Tree)
		v1.GET("/documents", h.Documents)
		v1.GET("/identities", h.Identities)

		v1.POST("/nodes", h.CreateNode)
		v1.DELETE("/nodes", h.RemoveNode)
		v1.POST("/explore", h.Explore)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
