// Package billingerr defines the error kinds shared by the webhook pipeline,
// the subscription commands and the HTTP layer.
package billingerr

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrMalformedPayload = errors.New("malformed_payload")
	ErrTenantMismatch   = errors.New("tenant_mismatch")
	ErrPlanNotActive    = errors.New("plan_not_active")
	ErrPlanNotSynced    = errors.New("plan_not_synced")
	ErrEntityNotFound   = errors.New("entity_not_found")
	ErrExternalService  = errors.New("external_service_error")
	ErrRateLimited      = errors.New("rate_limited")
)

// ExternalServiceError wraps a payment processor failure raised while
// executing a command. Local state is never mutated when one is returned.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrExternalService.Error(), e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{ErrExternalService, e.Err}
}

func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Op: op, Err: err}
}

// ResolutionFailure is returned when an inbound event cannot be tied to exactly
// one entity of the expected tenant.
type ResolutionFailure struct {
	Reason string
	Kind   error
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("resolution failed: %s", e.Reason)
}

func (e *ResolutionFailure) Unwrap() error {
	return e.Kind
}

func Mismatch(format string, args ...any) error {
	return &ResolutionFailure{Reason: fmt.Sprintf(format, args...), Kind: ErrTenantMismatch}
}

func NotFound(format string, args ...any) error {
	return &ResolutionFailure{Reason: fmt.Sprintf(format, args...), Kind: ErrEntityNotFound}
}

func IsResolutionFailure(err error) bool {
	var rf *ResolutionFailure
	return errors.As(err, &rf)
}
