package routes

import (
	"github.com/gin-gonic/gin"

	"offramp-core/internal/handler"
)

func RegisterOfframpRoutes(rg *gin.RouterGroup, h *handler.OfframpHandler) {
	offrampGroup := rg.Group("/offramp")
	{
		offrampGroup.POST("/address", h.CreateAddress)
		offrampGroup.GET("/:id", h.GetTransaction)
		offrampGroup.POST("/:id/advance", h.Advance)
	}
}
