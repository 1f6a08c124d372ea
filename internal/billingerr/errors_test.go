package billingerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalServiceErrorMatchesBothKinds(t *testing.T) {
	cause := errors.New("stripe: connection reset")
	err := fmt.Errorf("cancel: %w", External("subscriptions.cancel", cause))

	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "subscriptions.cancel")
	assert.Nil(t, External("noop", nil))
}

func TestResolutionFailureKinds(t *testing.T) {
	mismatch := Mismatch("tenant %d does not own entity %d", 1, 2)
	assert.ErrorIs(t, mismatch, ErrTenantMismatch)
	assert.True(t, IsResolutionFailure(mismatch))

	missing := fmt.Errorf("wrapped: %w", NotFound("no entity for subscription %s", "sub_1"))
	assert.ErrorIs(t, missing, ErrEntityNotFound)
	assert.True(t, IsResolutionFailure(missing))

	assert.False(t, IsResolutionFailure(ErrTenantMismatch))
}
