package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"salesbot/internal/broker"
	"salesbot/internal/models"
	"salesbot/internal/util"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TenantLookup resolves the automation target for an event's tenant.
type TenantLookup interface {
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// AutomationWorker relays settlement events to each tenant's configured
// automation webhook. Delivery is fire-and-forget: failures are logged and the
// event is committed regardless, never retried.
type AutomationWorker struct {
	consumer *broker.Consumer
	store    TenantLookup
	http     *resty.Client
	logger   *zap.Logger
}

// NewAutomationWorker creates a new automation worker
func NewAutomationWorker(consumer *broker.Consumer, store TenantLookup) *AutomationWorker {
	return &AutomationWorker{
		consumer: consumer,
		store:    store,
		http:     resty.New().SetTimeout(10 * time.Second),
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *AutomationWorker) Start(ctx context.Context) error {
	log.Println("Starting automation worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *AutomationWorker) Stop() error {
	log.Println("Stopping automation worker...")
	return w.consumer.Close()
}

func (w *AutomationWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Warn("Skipping undecodable event", zap.Error(err))
		return nil
	}
	if base.EventType != models.EventTypePaymentSettled {
		return nil
	}

	var event models.PaymentSettledEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		w.logger.Warn("Skipping malformed settlement event", zap.Error(err))
		return nil
	}

	tenant, err := w.store.GetTenantByID(ctx, event.TenantID)
	if err != nil {
		w.logger.Warn("Settlement event for unknown tenant",
			zap.String("tenant_id", event.TenantID),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err))
		return nil
	}
	if !tenant.AutomationURL.Valid || tenant.AutomationURL.String == "" {
		return nil
	}

	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(&event).
		Post(tenant.AutomationURL.String)
	if err != nil {
		w.logger.Warn("Automation webhook unreachable",
			zap.String("tenant_id", event.TenantID),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err))
		return nil
	}
	if resp.IsError() {
		w.logger.Warn("Automation webhook rejected event",
			zap.String("tenant_id", event.TenantID),
			zap.String("payment_id", event.PaymentID),
			zap.Int("status", resp.StatusCode()))
		return nil
	}

	w.logger.Info("Settlement relayed to automation webhook",
		zap.String("tenant_id", event.TenantID),
		zap.String("payment_id", event.PaymentID))
	return nil
}
