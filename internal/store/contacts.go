package store

import (
	"context"
	"database/sql"

	"salesbot/internal/models"
)

// UpsertContact inserts a contact or bumps last_seen_at on conflict.
// Returns the row and whether it was newly created. NOW() is the transaction
// timestamp, so created_at equals last_seen_at exactly when the row was
// inserted by this call.
func (s *Store) UpsertContact(ctx context.Context, tenantID, channel, identifier string) (*models.Contact, bool, error) {
	var contact models.Contact
	err := s.db.GetContext(ctx, &contact, `
		INSERT INTO contacts (tenant_id, channel, identifier, last_seen_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, channel, identifier)
		DO UPDATE SET last_seen_at = NOW()
		RETURNING *`, tenantID, channel, identifier)
	if err != nil {
		return nil, false, err
	}
	created := contact.CreatedAt.Equal(contact.LastSeenAt)
	return &contact, created, nil
}

// FindContactByPhone finds another contact of the same tenant holding the given
// phone on a different channel. Used for the weak cross-channel link.
func (s *Store) FindContactByPhone(ctx context.Context, tenantID, phone, excludeChannel string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.GetContext(ctx, &contact, `
		SELECT * FROM contacts
		WHERE tenant_id = $1 AND phone = $2 AND channel <> $3
		ORDER BY created_at LIMIT 1`, tenantID, phone, excludeChannel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// LinkCanonicalContact sets the canonical_contact_id back-reference.
func (s *Store) LinkCanonicalContact(ctx context.Context, contactID, canonicalID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE contacts SET canonical_contact_id = $1 WHERE id = $2",
		canonicalID, contactID)
	return err
}

// UpdateContactField sets one of the capturable contact fields (name, email, phone).
func (s *Store) UpdateContactField(ctx context.Context, tenantID, channel, identifier, field, value string) error {
	var query string
	switch field {
	case "name":
		query = "UPDATE contacts SET name = $1 WHERE tenant_id = $2 AND channel = $3 AND identifier = $4"
	case "email":
		query = "UPDATE contacts SET email = $1 WHERE tenant_id = $2 AND channel = $3 AND identifier = $4"
	case "phone":
		query = "UPDATE contacts SET phone = $1 WHERE tenant_id = $2 AND channel = $3 AND identifier = $4"
	default:
		return nil
	}
	_, err := s.db.ExecContext(ctx, query, value, tenantID, channel, identifier)
	return err
}
