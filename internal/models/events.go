package models

import "time"

// Event types
const (
	EventTypePaymentSettled   = "PAYMENT_SETTLED"
	EventTypePaymentDuplicate = "PAYMENT_DUPLICATE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSettledEvent published after an approved payment is settled.
// The automation worker relays it to the tenant's automation webhook.
type PaymentSettledEvent struct {
	BaseEvent
	TenantID   string `json:"tenant_id"`
	PaymentID  string `json:"payment_id"`
	ProductID  int64  `json:"product_id,omitempty"`
	Quantity   int    `json:"quantity"`
	PayerEmail string `json:"payer_email,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}
