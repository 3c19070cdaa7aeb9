// Package params extracts the caller and path/query values shared by the HTTP
// controllers. Every helper writes the error envelope itself and reports false.
package params

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/pkg/pagination"
	"chatrelay-backend/pkg/response"
)

// CurrentUser returns the authenticated caller
func CurrentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	return userID, true
}

// PathUUID parses the named path parameter as a UUID
func PathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// Limit parses the limit query value, clamped into the pagination bounds
func Limit(c *gin.Context) (int, bool) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return 0, false
	}
	return limit, true
}
