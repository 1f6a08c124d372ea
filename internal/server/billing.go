package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
)

type checkoutRequest struct {
	EntityID        string `json:"entity_id"`
	PlanID          string `json:"plan_id"`
	BillingInterval string `json:"billing_interval"`
}

type cancelRequest struct {
	EntityID  string `json:"entity_id"`
	Immediate bool   `json:"immediate"`
}

type resumeRequest struct {
	EntityID string `json:"entity_id"`
}

type swapRequest struct {
	EntityID          string `json:"entity_id"`
	NewPlanID         string `json:"new_plan_id"`
	BillingInterval   string `json:"billing_interval"`
	ProrationBehavior string `json:"proration_behavior"`
}

type portalRequest struct {
	EntityID  string `json:"entity_id"`
	ReturnURL string `json:"return_url"`
}

type entityStatusResponse struct {
	EntityID           string  `json:"entity_id"`
	SubscriptionStatus string  `json:"subscription_status"`
	PlanID             *string `json:"plan_id,omitempty"`
	BillingInterval    string  `json:"billing_interval"`
	CancelScheduledFor *string `json:"cancel_scheduled_for,omitempty"`
	PeriodEnd          *string `json:"current_period_end,omitempty"`
}

func (s *Server) Checkout(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entityID, err := parseSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}
	planID, err := parseSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}

	resp, err := s.subscriptionSvc.Checkout(c.Request.Context(), tenant, subscriptiondomain.CheckoutRequest{
		EntityID:        entityID,
		PlanID:          planID,
		BillingInterval: strings.TrimSpace(req.BillingInterval),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) Cancel(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entityID, err := parseSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	entity, err := s.subscriptionSvc.Cancel(c.Request.Context(), tenant, subscriptiondomain.CancelRequest{
		EntityID:  entityID,
		Immediate: req.Immediate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newEntityStatusResponse(entity)})
}

func (s *Server) Resume(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entityID, err := parseSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	entity, err := s.subscriptionSvc.Resume(c.Request.Context(), tenant, entityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newEntityStatusResponse(entity)})
}

func (s *Server) SwapPlan(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entityID, err := parseSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}
	planID, err := parseSnowflakeID(req.NewPlanID)
	if err != nil {
		AbortWithError(c, newValidationError("new_plan_id", "invalid_new_plan_id", "invalid new_plan_id"))
		return
	}

	if _, err := s.subscriptionSvc.SwapPlan(c.Request.Context(), tenant, subscriptiondomain.SwapRequest{
		EntityID:          entityID,
		PlanID:            planID,
		BillingInterval:   strings.TrimSpace(req.BillingInterval),
		ProrationBehavior: strings.TrimSpace(req.ProrationBehavior),
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) BillingPortal(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req portalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entityID, err := parseSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	url, err := s.subscriptionSvc.BillingPortal(c.Request.Context(), tenant, subscriptiondomain.PortalRequest{
		EntityID:  entityID,
		ReturnURL: strings.TrimSpace(req.ReturnURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func newEntityStatusResponse(entity *entitydomain.BillableEntity) entityStatusResponse {
	resp := entityStatusResponse{
		EntityID:           entity.ID.String(),
		SubscriptionStatus: string(entity.SubscriptionStatus),
		BillingInterval:    string(entity.BillingInterval),
	}
	if entity.PlanID != nil {
		id := entity.PlanID.String()
		resp.PlanID = &id
	}
	if entity.CancelScheduledFor != nil {
		at := entity.CancelScheduledFor.UTC().Format(time.RFC3339)
		resp.CancelScheduledFor = &at
	}
	if entity.PeriodEnd != nil {
		at := entity.PeriodEnd.UTC().Format(time.RFC3339)
		resp.PeriodEnd = &at
	}
	return resp
}
