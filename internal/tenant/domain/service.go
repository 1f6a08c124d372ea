package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound      = errors.New("tenant_not_found")
	ErrInactive      = errors.New("tenant_inactive")
	ErrInvalidAPIKey = errors.New("invalid_api_key")
	ErrInvalidName   = errors.New("invalid_name")
)

type CreateRequest struct {
	Name               string
	BillingEmail       string
	WebhookSecret      string
	ProcessorAccountID string
}

// CreateResponse carries the plaintext API key exactly once.
type CreateResponse struct {
	Tenant Tenant
	APIKey string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	Authenticate(ctx context.Context, apiKey string) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}
