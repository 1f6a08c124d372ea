package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/proration"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	webhookservice "github.com/smallbiznis/clubpay/internal/webhook/service"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// validationSentinels answer 400. Order matters: the first match names the code.
var validationSentinels = []error{
	ErrInvalidRequest,
	billingerr.ErrSignatureInvalid,
	billingerr.ErrMalformedPayload,
	subscriptiondomain.ErrNoCustomer,
	subscriptiondomain.ErrInvalidEntity,
	subscriptiondomain.ErrInvalidPlan,
	proration.ErrInvalidInterval,
	proration.ErrInvalidBehavior,
	plandomain.ErrInvalidName,
	plandomain.ErrInvalidPrice,
	plandomain.ErrInvalidTrial,
	analyticsdomain.ErrInvalidTenant,
	analyticsdomain.ErrInvalidPeriod,
	analyticsdomain.ErrInvalidRange,
}

// unprocessableSentinels are well-formed commands the entity's current state
// or its plan cannot accept.
var unprocessableSentinels = []error{
	billingerr.ErrPlanNotActive,
	billingerr.ErrPlanNotSynced,
	subscriptiondomain.ErrInvalidTransition,
	subscriptiondomain.ErrNoSubscription,
	subscriptiondomain.ErrNoCancellationScheduled,
	proration.ErrFreePlan,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := matchSentinel(err, validationSentinels); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if code, ok := matchSentinel(err, unprocessableSentinels); ok {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable_entity",
			Message: code,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, tenantdomain.ErrInvalidAPIKey),
		errors.Is(err, tenantdomain.ErrInactive):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, billingerr.ErrTenantMismatch):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, subscriptiondomain.ErrAlreadySubscribed),
		errors.Is(err, entitydomain.ErrConcurrentUpdate),
		errors.Is(err, analyticsdomain.ErrPeriodOpen):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billingerr.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, billingerr.ErrExternalService):
		return http.StatusBadGateway, errorPayload{
			Type:    "external_service_error",
			Message: "payment processor request failed",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, webhookservice.ErrHandlerFailed),
		errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same taxonomy clients see.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if code, ok := matchSentinel(err, validationSentinels); ok {
		return payload.Type, code
	}
	if code, ok := matchSentinel(err, unprocessableSentinels); ok {
		return payload.Type, code
	}
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		return payload.Type, vErr.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) (string, bool) {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, billingerr.ErrEntityNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, subscriptiondomain.ErrAlreadySubscribed):
		return subscriptiondomain.ErrAlreadySubscribed.Error()
	case errors.Is(err, analyticsdomain.ErrPeriodOpen):
		return analyticsdomain.ErrPeriodOpen.Error()
	default:
		return "conflict"
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case billingerr.ErrSignatureInvalid.Error():
		return "signature"
	case billingerr.ErrMalformedPayload.Error():
		return "payload"
	case subscriptiondomain.ErrNoCustomer.Error():
		return "entity_id"
	case proration.ErrInvalidInterval.Error():
		return "billing_interval"
	case proration.ErrInvalidBehavior.Error():
		return "proration_behavior"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case billingerr.ErrSignatureInvalid.Error():
		return "signature verification failed"
	case billingerr.ErrMalformedPayload.Error():
		return "malformed event payload"
	case subscriptiondomain.ErrNoCustomer.Error():
		return "entity has no processor customer"
	case proration.ErrInvalidInterval.Error():
		return "billing_interval must be monthly or yearly"
	case proration.ErrInvalidBehavior.Error():
		return "proration_behavior must be create_prorations, none or always_invoice"
	default:
		return "invalid value"
	}
}
