package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func registerRoutes(router *gin.Engine, s *server, secret string) {
	router.GET("/healthz", s.handleHealth)

	public := router.Group("/public")
	public.GET("/routes/validate-stock/:token", s.handleApprovalLookup)
	public.POST("/routes/validate-stock/:token", s.handleApprovalResolveToken)

	authed := router.Group("/", JWTAuth(secret))
	privileged := RequirePrivileged()

	routes := authed.Group("/routes")
	routes.POST("", s.handleRouteCreate)
	routes.GET("", s.handleRouteList)
	routes.GET("/:id", s.handleRouteGet)
	routes.PATCH("/:id", s.handleRouteUpdate)
	routes.DELETE("/:id", s.handleRouteDelete)
	routes.POST("/:id/duplicate", s.handleRouteDuplicate)

	items := routes.Group("/items/:itemId")
	items.GET("", s.handleItemGet)
	items.POST("/check-in", s.handleCheckIn)
	items.POST("/check-out", s.handleCheckOut)
	items.POST("/skip", s.handleSkip)
	items.POST("/manual", privileged, s.handleManual)
	items.PATCH("/products/:productId/check", s.handleProductCheck)
	items.POST("/products/:productId/stock-review", s.handleStockReview)

	approvals := routes.Group("/approvals", privileged)
	approvals.GET("/pending", s.handleApprovalsPending)
	approvals.POST("/:id", s.handleApprovalResolve)

	schedules := authed.Group("/work-schedules")
	schedules.GET("/access-status", s.handleAccessStatus)
	schedules.GET("", s.handleScheduleList)
	schedules.POST("", privileged, s.handleScheduleCreate)
	schedules.GET("/extensions", s.handleExtensionList)
	schedules.POST("/extensions", privileged, s.handleExtensionGrant)

	clock := authed.Group("/time-clock")
	clock.POST("/punches", s.handlePunch)
	clock.GET("/punches", s.handlePunchList)

	authed.POST("/presence/heartbeat", s.handleHeartbeat)
}

func (s *server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
