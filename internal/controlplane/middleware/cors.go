package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "DELETE", "HEAD"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	MaxAge: 12 * time.Hour,
}

func CORS() gin.HandlerFunc {
	return cors.New(corsConfig)
}
