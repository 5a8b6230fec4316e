package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/middleware"
)

// NewRouter wires every route. broker is only read for the health report.
func NewRouter(h *Handler, broker *feed.Broker, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(allowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": broker.Active()})
	})

	auth := middleware.JWTAuth(h.jwtSecret)
	staff := middleware.RequireRole(middleware.RoleDoctor, middleware.RoleAdmin)
	patient := middleware.RequireRole(middleware.RolePatient)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public, development only)
		apiGroup.POST("/auth/login", h.Login)

		webrtc := apiGroup.Group("/webrtc", auth)
		webrtc.POST("/create-call", h.CreateCall)
		webrtc.GET("/calls/:roomId", h.GetCall)
		webrtc.POST("/update-call-status", h.UpdateCallStatus)
		webrtc.POST("/calls/:roomId/join", patient, h.JoinCall)
		webrtc.POST("/calls/:roomId/token", h.MediaToken)
		webrtc.GET("/doctor-calls/:doctorId", staff, h.DoctorCalls)
		webrtc.GET("/patient-calls", patient, h.PatientCalls)
		webrtc.POST("/signal", h.SendSignal)
		webrtc.GET("/signals/:roomId/:userId", h.RecentSignals)
		webrtc.GET("/listen/:roomId/:userId", h.ListenSignals)

		notes := apiGroup.Group("/notifications", auth)
		notes.GET("/sse", h.NotificationEvents)
		notes.GET("", h.ListNotifications)
		notes.POST("", staff, h.PublishNotification)
	}

	// WebSocket signaling endpoint
	router.GET("/ws/signal/:roomId", auth, h.HandleSignaling)

	return router
}
