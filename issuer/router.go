package issuer

import (
	"github.com/gin-gonic/gin"
)

// Router sets up the Gin router
func Router(service *Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID())

	handlers := NewHandlers(service)

	auth := router.Group("/auth")
	{
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/introspect", handlers.Introspect)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(service))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	return router
}
