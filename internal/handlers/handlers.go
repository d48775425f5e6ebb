// Package handlers mounts the HTTP surface over the stores and engines. All
// handlers are plain structs wired in RegisterRoutes; authentication and
// identity live in the shared JWT middleware.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// RequireAdmin rejects non-admin callers. It runs after JWTAuthMiddleware,
// which populates the role claim.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.IsAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// pathID parses the :id route parameter, answering 400 itself on garbage.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// deviceVisible mirrors the registry visibility rule: admins see everything,
// public devices are shared, the rest belong to their owner.
func deviceVisible(device models.Device, userID int64, admin bool) bool {
	if admin {
		return true
	}
	if device.IsPublic {
		return true
	}
	return device.OwnerID != nil && *device.OwnerID == userID
}
