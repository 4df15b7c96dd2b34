package broker

import (
	"context"
	"fmt"

	"salesbot/internal/models"
)

// EventPublisher handles publishing settlement events. Publishing is
// fire-and-forget from the settlement path: failures are logged by the caller,
// never propagated to the webhook response.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentSettled publishes a PaymentSettled event keyed by payment so
// duplicate settlements for one payment land on the same partition.
func (ep *EventPublisher) PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error {
	key := fmt.Sprintf("payment-%s-%s", event.TenantID, event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}
