package contacts

import (
	"context"
	"strings"

	"salesbot/internal/models"
	"salesbot/internal/util"

	"go.uber.org/zap"
)

// ContactStore is the subset of the database store the registry needs.
type ContactStore interface {
	UpsertContact(ctx context.Context, tenantID, channel, identifier string) (*models.Contact, bool, error)
	FindContactByPhone(ctx context.Context, tenantID, phone, excludeChannel string) (*models.Contact, error)
	LinkCanonicalContact(ctx context.Context, contactID, canonicalID int64) error
	CountChatLogs(ctx context.Context, tenantID, channel, sender string) (int, error)
	RecordOwnerAlert(ctx context.Context, tenantID, channel, sender string) error
}

// AlertMailer sends the first-contact notification to the tenant owner.
type AlertMailer interface {
	SendOwnerAlert(ctx context.Context, ownerEmail, tenantName, channel, sender string) error
}

// Registry deduplicates end-customer identities per tenant/channel and fires
// the first-message owner alert.
type Registry struct {
	store  ContactStore
	mailer AlertMailer
	logger *zap.Logger
}

func NewRegistry(store ContactStore, mailer AlertMailer) *Registry {
	return &Registry{
		store:  store,
		mailer: mailer,
		logger: util.GetLogger(),
	}
}

// EnsureContact idempotently upserts the contact for (tenant, channel,
// identifier). On first creation, a phone-shaped identifier is cross-linked to
// an existing same-tenant contact on another channel via canonical_contact_id,
// which is a lookup aid, never an ownership relation.
func (r *Registry) EnsureContact(ctx context.Context, tenantID, channel, identifier string) (*models.Contact, error) {
	contact, created, err := r.store.UpsertContact(ctx, tenantID, channel, identifier)
	if err != nil {
		return nil, err
	}

	if created && looksLikePhone(identifier) {
		existing, err := r.store.FindContactByPhone(ctx, tenantID, identifier, channel)
		if err != nil {
			r.logger.Warn("Cross-channel phone lookup failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			return contact, nil
		}
		if existing != nil {
			if err := r.store.LinkCanonicalContact(ctx, contact.ID, existing.ID); err != nil {
				r.logger.Warn("Failed to link canonical contact",
					zap.String("tenant_id", tenantID),
					zap.Int64("contact_id", contact.ID),
					zap.Error(err))
			}
		}
	}

	return contact, nil
}

// NotifyOwnerOnFirstMessage alerts the owner the first time an external-channel
// customer writes. The chat log row for the current message is written after
// this check, so a retried webhook delivery of the same first message sees the
// row from the completed first attempt and stays quiet.
func (r *Registry) NotifyOwnerOnFirstMessage(ctx context.Context, tenant *models.Tenant, channel, sender string) error {
	count, err := r.store.CountChatLogs(ctx, tenant.ID, channel, sender)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if err := r.mailer.SendOwnerAlert(ctx, tenant.OwnerEmail, tenant.Name, channel, sender); err != nil {
		r.logger.Warn("Owner alert email failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("channel", channel),
			zap.Error(err))
	} else {
		util.OwnerAlertsTotal.Inc()
	}

	if err := r.store.RecordOwnerAlert(ctx, tenant.ID, channel, sender); err != nil {
		r.logger.Warn("Failed to record owner alert",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
	}
	return nil
}

func looksLikePhone(identifier string) bool {
	trimmed := strings.TrimPrefix(identifier, "+")
	if len(trimmed) < 8 {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
