package store

import (
	"context"
	"database/sql"

	"salesbot/internal/models"
)

// GetPaymentEvent retrieves a payment event by (tenant, payment_id).
func (s *Store) GetPaymentEvent(ctx context.Context, tenantID, paymentID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM payment_events WHERE tenant_id = $1 AND payment_id = $2",
		tenantID, paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpsertPaymentEvent records the payment in its current provider state. The
// uniqueness constraint on (tenant_id, payment_id) makes duplicate webhook
// delivery converge on one row. processed is never touched here.
func (s *Store) UpsertPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	query := `
		INSERT INTO payment_events
			(tenant_id, payment_id, status, product_id, quantity, payer_email, amount, currency, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, payment_id)
		DO UPDATE SET status = EXCLUDED.status, raw_payload = EXCLUDED.raw_payload, updated_at = NOW()
		RETURNING *`

	return s.db.GetContext(ctx, event, query,
		event.TenantID, event.PaymentID, event.Status, event.ProductID,
		event.Quantity, event.PayerEmail, event.Amount, event.Currency, event.RawPayload)
}

// MarkPaymentProcessed flips processed exactly once. Returns false when another
// delivery already won the race.
func (s *Store) MarkPaymentProcessed(ctx context.Context, tenantID, paymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET processed = TRUE, updated_at = NOW()
		WHERE tenant_id = $1 AND payment_id = $2 AND processed = FALSE`,
		tenantID, paymentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetPaymentSideEffects records the independent completion flags so a partially
// failed settlement can be retried without double-applying finished parts.
func (s *Store) SetPaymentSideEffects(ctx context.Context, tenantID, paymentID string, stockUpdated, emailSent bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_events
		SET stock_updated = stock_updated OR $1, email_sent = email_sent OR $2, updated_at = NOW()
		WHERE tenant_id = $3 AND payment_id = $4`,
		stockUpdated, emailSent, tenantID, paymentID)
	return err
}
