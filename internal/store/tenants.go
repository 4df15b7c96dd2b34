package store

import (
	"context"
	"database/sql"
	"errors"

	"salesbot/internal/models"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrChannelNotFound = errors.New("channel not found")
)

// GetTenantByID retrieves a tenant by ID
func (s *Store) GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.GetContext(ctx, &tenant, "SELECT * FROM tenants WHERE id = $1", tenantID)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetChannel retrieves the active channel for (tenant, provider). Lookup logic
// expects at most one row per pair.
func (s *Store) GetChannel(ctx context.Context, tenantID, provider string) (*models.Channel, error) {
	var channel models.Channel
	err := s.db.GetContext(ctx, &channel, `
		SELECT * FROM channels
		WHERE tenant_id = $1 AND provider = $2 AND active = TRUE
		LIMIT 1`, tenantID, provider)
	if err == sql.ErrNoRows {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetChannelByExternalID resolves a channel from the provider-side identifier
// carried in webhook envelopes (phone number id, page id).
func (s *Store) GetChannelByExternalID(ctx context.Context, provider, externalID string) (*models.Channel, error) {
	var channel models.Channel
	err := s.db.GetContext(ctx, &channel, `
		SELECT * FROM channels
		WHERE provider = $1 AND external_id = $2 AND active = TRUE
		LIMIT 1`, provider, externalID)
	if err == sql.ErrNoRows {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}
