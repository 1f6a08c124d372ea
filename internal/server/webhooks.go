package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	webhookservice "github.com/smallbiznis/clubpay/internal/webhook/service"
)

const headerStripeSignature = "Stripe-Signature"

// HandleStripeWebhook receives platform-level deliveries signed with the
// global secret.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	s.receiveWebhook(c, nil)
}

// HandleTenantStripeWebhook receives deliveries on a tenant's own route. The
// route is throttled per tenant; the global route never is.
func (s *Server) HandleTenantStripeWebhook(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant_id"))
		return
	}
	if !s.tenantLimiter.Allow(id) {
		s.telemetry.RecordWebhookDelivery("rate_limited", id.String(), 0)
		AbortWithError(c, billingerr.ErrRateLimited)
		return
	}
	c.Set(contextTenantIDKey, id.String())
	s.receiveWebhook(c, &id)
}

func (s *Server) receiveWebhook(c *gin.Context, routeTenantID *snowflake.ID) {
	start := time.Now()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("payload", "payload_too_large", "payload too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.pipeline.Receive(c.Request.Context(), webhookservice.Delivery{
		Payload:       payload,
		Signature:     strings.TrimSpace(c.GetHeader(headerStripeSignature)),
		RouteTenantID: routeTenantID,
	})

	tenant := ""
	if routeTenantID != nil {
		tenant = routeTenantID.String()
	}
	s.telemetry.RecordWebhookDelivery(string(result), tenant, time.Since(start))

	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(result)})
}
