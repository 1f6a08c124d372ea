package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/clock"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "cp_live_"
	apiKeySecretBytes = 24
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  tenantdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  tenantdomain.Repository
}

func New(p Params) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateRequest) (*tenantdomain.CreateResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidName
	}

	plain, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:                 s.genID.Generate(),
		Name:               name,
		IsActive:           true,
		APIKeyHash:         tenantdomain.HashAPIKey(plain),
		WebhookSecret:      strings.TrimSpace(req.WebhookSecret),
		ProcessorAccountID: strings.TrimSpace(req.ProcessorAccountID),
		BillingEmail:       strings.TrimSpace(req.BillingEmail),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, &tenant); err != nil {
		return nil, err
	}

	s.log.Info("tenant created", zap.String("tenant_id", tenant.ID.String()))
	return &tenantdomain.CreateResponse{Tenant: tenant, APIKey: plain}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrNotFound
	}
	return tenant, nil
}

// Authenticate resolves the tenant that owns apiKey. Inactive tenants are rejected.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*tenantdomain.Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" || !strings.HasPrefix(apiKey, apiKeyPrefix) {
		return nil, tenantdomain.ErrInvalidAPIKey
	}

	tenant, err := s.repo.FindByAPIKeyHash(ctx, s.db, tenantdomain.HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrInvalidAPIKey
	}
	if !tenant.IsActive {
		return nil, tenantdomain.ErrInactive
	}
	return tenant, nil
}

func (s *Service) ListActive(ctx context.Context) ([]tenantdomain.Tenant, error) {
	return s.repo.ListActive(ctx, s.db)
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !tenant.IsActive {
		return nil
	}
	return s.repo.Deactivate(ctx, s.db, id, s.clock.Now())
}

func generateAPIKey() (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(secret), nil
}
