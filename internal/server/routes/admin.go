package routes

import (
	"github.com/gin-gonic/gin"

	"offramp-core/internal/handler"
)

func RegisterAdminRoutes(rg *gin.RouterGroup, h *handler.OfframpHandler) {
	adminGroup := rg.Group("/admin")
	{
		adminGroup.POST("/offramp/:id/restart", h.Restart)
	}
}
