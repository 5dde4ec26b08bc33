package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Motium Sync Agent API
// @version 1.0
// @description Local diagnostics and control API for the offline-first sync agent
// @host localhost:8090
// @BasePath /api/v1

// SetupRouter configures the API routes
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	// API documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", h.Health)

	// API v1 group
	v1 := r.Group("/api/v1")
	{
		syncGroup := v1.Group("/sync")
		{
			syncGroup.GET("/status", h.GetSyncStats)
			syncGroup.GET("/pending", h.ListPendingOperations)
			syncGroup.POST("/now", h.ForceSync)
		}

		v1.POST("/auth/refresh", h.RefreshToken)

		trips := v1.Group("/trips")
		{
			trips.GET("", h.ListTrips)
			trips.POST("", h.SaveTrip)
			trips.PUT("", h.SaveTrip)
			trips.DELETE("/:id", h.DeleteTrip)
		}

		vehicles := v1.Group("/vehicles")
		{
			vehicles.GET("", h.ListVehicles)
			vehicles.POST("", h.SaveVehicle)
			vehicles.PUT("", h.SaveVehicle)
			vehicles.DELETE("/:id", h.DeleteVehicle)
		}
	}

	return r
}
