package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", HeaderUserID, HeaderUserTier, HeaderRequestID}
	config.ExposeHeaders = []string{HeaderRequestID}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
