package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
)

type rangeQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

func (s *Server) GetMRR(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	report, err := s.analyticsSvc.MRR(c.Request.Context(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetMRRMovement(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	from, to, err := s.bindRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.analyticsSvc.MRRMovement(c.Request.Context(), tenant, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetChurn(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	month, err := parseOptionalMonth(c.Query("month"))
	if err != nil {
		AbortWithError(c, newValidationError("month", "invalid_month", "invalid month"))
		return
	}
	at := s.clock.Now()
	if month != nil {
		at = *month
	}

	report, err := s.analyticsSvc.Churn(c.Request.Context(), tenant, at)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetCohorts(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	cohorts, err := s.analyticsSvc.Cohorts(c.Request.Context(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cohorts})
}

func (s *Server) GetLTV(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	report, err := s.analyticsSvc.LTV(c.Request.Context(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetTrialConversion(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	from, to, err := s.bindRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.analyticsSvc.TrialConversion(c.Request.Context(), tenant, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetSnapshots(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		rangeQuery
		Period string `form:"period"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	period := analyticsdomain.PeriodMonthly
	if p := strings.TrimSpace(query.Period); p != "" {
		period = analyticsdomain.Period(strings.ToLower(p))
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	var fromAt, toAt time.Time
	if from != nil {
		fromAt = *from
	}
	if to != nil {
		toAt = *to
	}

	snapshots, err := s.analyticsSvc.Snapshots(c.Request.Context(), tenant, period, fromAt, toAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshots})
}

// bindRange reads ?from&to. Missing bounds default to the current calendar
// month so far.
func (s *Server) bindRange(c *gin.Context) (time.Time, time.Time, error) {
	var query rangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return time.Time{}, time.Time{}, invalidRequestError()
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("from", "invalid_from", "invalid from")
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("to", "invalid_to", "invalid to")
	}

	now := s.clock.Now().UTC()
	fromAt := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	toAt := now
	if from != nil {
		fromAt = *from
	}
	if to != nil {
		toAt = *to
	}
	return fromAt, toAt, nil
}
