package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/realtime"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
)

// Routes bundles everything mounted under /api.
type Routes struct {
	Devices    *DeviceHandlers
	Energy     *EnergyHandlers
	Logs       *LogHandlers
	SceneRules *SceneRuleHandlers
	AlertRules *AlertRuleHandlers
	Streamer   *realtime.Streamer
	Bus        realtime.BusProbe
	JWTSecret  []byte
}

// Register mounts the API surface. Everything runs behind the JWT
// middleware except the SSE stream, which authenticates with a one-shot
// ticket in the query string because EventSource cannot send headers.
func (r Routes) Register(router *gin.Engine) {
	api := router.Group("/api")

	api.GET("/realtime/stream", r.Streamer.HandleStream)

	authed := api.Group("", auth.JWTAuthMiddleware(r.JWTSecret))
	{
		authed.GET("/devices", r.Devices.List)
		authed.GET("/devices/:id", r.Devices.Get)
		authed.GET("/devices/:id/history", r.Devices.History)
		authed.POST("/devices/:id/toggle", r.Devices.Toggle)
		authed.POST("/devices/:id/set_temp", r.Devices.SetTemp)
		authed.POST("/devices/:id/set_fan_speed", r.Devices.SetFanSpeed)

		authed.GET("/energy/analysis", r.Energy.Analysis)
		authed.GET("/energy/analysis/export", r.Energy.ExportCSV)

		authed.GET("/logs", r.Logs.List)

		authed.GET("/scene-rules", r.SceneRules.List)
		authed.POST("/scene-rules", r.SceneRules.Create)
		authed.GET("/scene-rules/:id", r.SceneRules.Get)
		authed.PUT("/scene-rules/:id", r.SceneRules.Update)
		authed.DELETE("/scene-rules/:id", r.SceneRules.Delete)
		authed.POST("/scene-rules/:id/toggle_enabled", r.SceneRules.ToggleEnabled)

		authed.GET("/realtime/stream-token", r.Streamer.HandleStreamToken)
	}

	admin := authed.Group("", RequireAdmin())
	{
		admin.POST("/devices", r.Devices.Create)
		admin.PUT("/devices/:id", r.Devices.Update)
		admin.DELETE("/devices/:id", r.Devices.Delete)
		admin.GET("/device-types", r.Devices.Types)

		admin.GET("/alert-rules", r.AlertRules.List)
		admin.POST("/alert-rules", r.AlertRules.Create)
		admin.GET("/alert-rules/:id", r.AlertRules.Get)
		admin.PUT("/alert-rules/:id", r.AlertRules.Update)
		admin.DELETE("/alert-rules/:id", r.AlertRules.Delete)
		admin.POST("/alert-rules/:id/toggle_enabled", r.AlertRules.ToggleEnabled)

		admin.GET("/mqtt/status", r.MQTTStatus)
	}
}

// MQTTStatus reports whether the gateway's bus client currently holds a
// broker connection. GET /mqtt/status (admin)
func (r Routes) MQTTStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connected": r.Bus != nil && r.Bus.IsConnected()})
}
