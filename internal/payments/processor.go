package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesbot/internal/models"
	"salesbot/internal/util"

	"go.uber.org/zap"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadPayload   = errors.New("unrecognized webhook payload")
)

// Outcome reports one webhook delivery's disposition. Duplicate and Skipped
// are success cases: the provider must not retry them.
type Outcome struct {
	Success   bool `json:"success"`
	Duplicate bool `json:"duplicate,omitempty"`
	Skipped   bool `json:"skipped,omitempty"`
	Settled   bool `json:"settled,omitempty"`
}

// EventStore is the persistence surface the processor needs.
type EventStore interface {
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetPaymentEvent(ctx context.Context, tenantID, paymentID string) (*models.PaymentEvent, error)
	UpsertPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	MarkPaymentProcessed(ctx context.Context, tenantID, paymentID string) (bool, error)
	SetPaymentSideEffects(ctx context.Context, tenantID, paymentID string, stockUpdated, emailSent bool) error
	DecrementStock(ctx context.Context, tenantID string, productID int64, quantity int) (int64, error)
	GetProductByID(ctx context.Context, tenantID string, id int64) (*models.Product, error)
}

// ConfirmationMailer sends the payer confirmation email.
type ConfirmationMailer interface {
	SendPaymentConfirmation(ctx context.Context, payerEmail, tenantName, productName string, quantity int, amount int64, currency string) error
}

// SettlementPublisher dispatches the automation notification. Fire-and-forget:
// the processor logs failures and never blocks settlement on it.
type SettlementPublisher interface {
	PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error
}

// Processor is the idempotent payment settlement state machine:
// unseen -> recorded(unprocessed) -> settled, one transition per payment id.
type Processor struct {
	store     EventStore
	provider  Provider
	mailer    ConfirmationMailer
	publisher SettlementPublisher
	secret    string
	logger    *zap.Logger
	newEvent  func() string
}

func NewProcessor(store EventStore, provider Provider, mailer ConfirmationMailer, publisher SettlementPublisher, webhookSecret string, eventID func() string) *Processor {
	return &Processor{
		store:     store,
		provider:  provider,
		mailer:    mailer,
		publisher: publisher,
		secret:    webhookSecret,
		logger:    util.GetLogger(),
		newEvent:  eventID,
	}
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// VerifySignature checks the provider HMAC over the canonical manifest
// "id:{data.id};request-id:{rid};ts:{ts};" with a constant-time compare.
// The signature header has the form "ts=...,v1=...".
func (p *Processor) VerifySignature(sigHeader, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return ErrBadSignature
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return ErrBadSignature
	}
	return nil
}

// HandleWebhook runs the full settlement state machine for one delivery.
// Duplicate delivery from the provider is expected behavior, not an edge case.
func (p *Processor) HandleWebhook(ctx context.Context, tenantID, sigHeader, requestID string, body []byte) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Processor.HandleWebhook")
	defer span.End()

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrBadPayload
	}
	paymentID := envelope.Data.ID.String()
	if paymentID == "" {
		return nil, ErrBadPayload
	}

	if err := p.VerifySignature(sigHeader, requestID, paymentID); err != nil {
		return nil, err
	}

	if envelope.Type != "payment" {
		return &Outcome{Success: true, Skipped: true}, nil
	}

	existing, err := p.store.GetPaymentEvent(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment event: %w", err)
	}
	if existing != nil && existing.Processed {
		util.DuplicateWebhooksTotal.Inc()
		p.logger.Info("Duplicate payment webhook",
			zap.String("tenant_id", tenantID),
			zap.String("payment_id", paymentID))
		return &Outcome{Success: true, Duplicate: true}, nil
	}

	tenant, err := p.store.GetTenantByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	payment, err := p.provider.GetPayment(ctx, tenant.PaymentToken, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	// Cross-tenant settlement guard: the webhook query parameter must match
	// the payment's own metadata. Accept without processing on mismatch.
	if payment.TenantID != "" && payment.TenantID != tenantID {
		util.TenantMismatchTotal.Inc()
		p.logger.Warn("Payment tenant metadata mismatch",
			zap.String("tenant_id", tenantID),
			zap.String("metadata_tenant_id", payment.TenantID),
			zap.String("payment_id", paymentID))
		return &Outcome{Success: true, Skipped: true}, nil
	}

	event := &models.PaymentEvent{
		TenantID:   tenantID,
		PaymentID:  paymentID,
		Status:     payment.Status,
		Quantity:   payment.Quantity,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		RawPayload: payment.Raw,
	}
	if payment.ProductID > 0 {
		event.ProductID = sql.NullInt64{Int64: payment.ProductID, Valid: true}
	}
	if payment.PayerEmail != "" {
		event.PayerEmail = sql.NullString{String: payment.PayerEmail, Valid: true}
	}

	if err := p.store.UpsertPaymentEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record payment event: %w", err)
	}

	if payment.Status != models.PaymentStatusApproved {
		p.logger.Info("Payment recorded, not yet approved",
			zap.String("tenant_id", tenantID),
			zap.String("payment_id", paymentID),
			zap.String("status", payment.Status))
		return &Outcome{Success: true}, nil
	}

	// Atomic check-and-set: exactly one delivery wins the right to settle.
	// The processed flag, once true, is never cleared; side effects record
	// their own completion so a partial failure cannot be double-applied.
	won, err := p.store.MarkPaymentProcessed(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment processed: %w", err)
	}
	if !won {
		util.DuplicateWebhooksTotal.Inc()
		return &Outcome{Success: true, Duplicate: true}, nil
	}

	p.settle(ctx, tenant, payment)

	util.SettlementsTotal.WithLabelValues("settled").Inc()
	return &Outcome{Success: true, Settled: true}, nil
}

// settle applies the side effects for one approved payment. Each effect is
// fallible on its own; failures are logged and recorded, never propagated as
// webhook errors.
func (p *Processor) settle(ctx context.Context, tenant *models.Tenant, payment *Payment) {
	stockUpdated := false
	emailSent := false
	productName := "your order"

	if payment.ProductID > 0 {
		affected, err := p.store.DecrementStock(ctx, tenant.ID, payment.ProductID, payment.Quantity)
		switch {
		case err != nil:
			util.SettlementsTotal.WithLabelValues("stock_error").Inc()
			p.logger.Error("Failed to decrement stock",
				zap.String("tenant_id", tenant.ID),
				zap.String("payment_id", payment.ID),
				zap.Int64("product_id", payment.ProductID),
				zap.Error(err))
		case affected == 0:
			// The product row is gone; recording stock_updated would claim a
			// decrement that never happened.
			util.SettlementsTotal.WithLabelValues("stock_missing").Inc()
			p.logger.Error("Stock decrement matched no product",
				zap.String("tenant_id", tenant.ID),
				zap.String("payment_id", payment.ID),
				zap.Int64("product_id", payment.ProductID))
		default:
			stockUpdated = true
		}

		if product, err := p.store.GetProductByID(ctx, tenant.ID, payment.ProductID); err == nil {
			productName = product.Name
		}
	}

	if payment.PayerEmail != "" {
		err := p.mailer.SendPaymentConfirmation(ctx, payment.PayerEmail, tenant.Name,
			productName, payment.Quantity, payment.Amount, payment.Currency)
		if err != nil {
			p.logger.Error("Failed to send confirmation email",
				zap.String("tenant_id", tenant.ID),
				zap.String("payment_id", payment.ID),
				zap.Error(err))
		} else {
			emailSent = true
		}
	}

	if err := p.store.SetPaymentSideEffects(ctx, tenant.ID, payment.ID, stockUpdated, emailSent); err != nil {
		p.logger.Error("Failed to record side effect flags",
			zap.String("tenant_id", tenant.ID),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
	}

	p.notifyAutomation(tenant, payment)
}

// notifyAutomation dispatches the external automation event without awaiting
// completion. Failures are logged, never retried.
func (p *Processor) notifyAutomation(tenant *models.Tenant, payment *Payment) {
	event := &models.PaymentSettledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   p.newEvent(),
			EventType: models.EventTypePaymentSettled,
			Timestamp: time.Now(),
		},
		TenantID:   tenant.ID,
		PaymentID:  payment.ID,
		ProductID:  payment.ProductID,
		Quantity:   payment.Quantity,
		PayerEmail: payment.PayerEmail,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.publisher.PublishPaymentSettled(ctx, event); err != nil {
			p.logger.Error("Failed to publish settlement event",
				zap.String("tenant_id", tenant.ID),
				zap.String("payment_id", payment.ID),
				zap.Error(err))
		}
	}()
}
