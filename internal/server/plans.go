package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SyncPlan pushes a plan to the tenant's processor account and returns it with
// its processor references filled in.
func (s *Server) SyncPlan(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	plan, err := s.planSvc.Sync(c.Request.Context(), tenant, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}
