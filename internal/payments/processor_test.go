package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"salesbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventStore struct {
	mu       sync.Mutex
	tenants  map[string]*models.Tenant
	events   map[string]*models.PaymentEvent
	products map[int64]*models.Product
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		tenants:  make(map[string]*models.Tenant),
		events:   make(map[string]*models.PaymentEvent),
		products: make(map[int64]*models.Product),
	}
}

func eventKey(tenantID, paymentID string) string {
	return tenantID + "|" + paymentID
}

func (f *fakeEventStore) GetTenantByID(_ context.Context, tenantID string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant not found: %s", tenantID)
	}
	return tenant, nil
}

func (f *fakeEventStore) GetPaymentEvent(_ context.Context, tenantID, paymentID string) (*models.PaymentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventKey(tenantID, paymentID)]
	if !ok {
		return nil, nil
	}
	copied := *event
	return &copied, nil
}

func (f *fakeEventStore) UpsertPaymentEvent(_ context.Context, event *models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := eventKey(event.TenantID, event.PaymentID)
	if existing, ok := f.events[k]; ok {
		existing.Status = event.Status
		existing.RawPayload = event.RawPayload
		return nil
	}
	copied := *event
	f.events[k] = &copied
	return nil
}

func (f *fakeEventStore) MarkPaymentProcessed(_ context.Context, tenantID, paymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventKey(tenantID, paymentID)]
	if !ok || event.Processed {
		return false, nil
	}
	event.Processed = true
	return true, nil
}

func (f *fakeEventStore) SetPaymentSideEffects(_ context.Context, tenantID, paymentID string, stockUpdated, emailSent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event, ok := f.events[eventKey(tenantID, paymentID)]; ok {
		event.StockUpdated = event.StockUpdated || stockUpdated
		event.EmailSent = event.EmailSent || emailSent
	}
	return nil
}

func (f *fakeEventStore) DecrementStock(_ context.Context, _ string, productID int64, quantity int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok {
		return 0, nil
	}
	product.Stock -= quantity
	if product.Stock < 0 {
		product.Stock = 0
	}
	return 1, nil
}

func (f *fakeEventStore) GetProductByID(_ context.Context, _ string, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	copied := *product
	return &copied, nil
}

type fakeProvider struct {
	payment *Payment
}

func (f *fakeProvider) GetPayment(_ context.Context, _, _ string) (*Payment, error) {
	copied := *f.payment
	return &copied, nil
}

func (f *fakeProvider) CreatePreference(_ context.Context, _ string, _ PreferenceRequest) (string, error) {
	return "https://pay.example.com/checkout/pref-1", nil
}

type countingMailer struct {
	mu   sync.Mutex
	sent int
}

func (m *countingMailer) SendPaymentConfirmation(_ context.Context, _, _, _ string, _ int, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return nil
}

func (m *countingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.PaymentSettledEvent
}

func (p *recordingPublisher) PublishPaymentSettled(_ context.Context, event *models.PaymentSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

const testSecret = "whsec_test"

func signWebhook(requestID, dataID, ts string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestProcessor(store *fakeEventStore, provider *fakeProvider) (*Processor, *countingMailer, *recordingPublisher) {
	mailer := &countingMailer{}
	publisher := &recordingPublisher{}
	var seq int
	processor := NewProcessor(store, provider, mailer, publisher, testSecret, func() string {
		seq++
		return fmt.Sprintf("evt-%d", seq)
	})
	return processor, mailer, publisher
}

func approvedPaymentFixture() (*fakeEventStore, *fakeProvider) {
	store := newFakeEventStore()
	store.tenants["t1"] = &models.Tenant{ID: "t1", Name: "Tienda Uno", PaymentToken: "tok"}
	store.products[42] = &models.Product{ID: 42, TenantID: "t1", Name: "Polera negra", Stock: 10}

	provider := &fakeProvider{payment: &Payment{
		ID:         "555",
		Status:     models.PaymentStatusApproved,
		Amount:     1590000,
		Currency:   "CLP",
		PayerEmail: "buyer@example.com",
		TenantID:   "t1",
		ProductID:  42,
		Quantity:   2,
	}}
	return store, provider
}

func TestDuplicateDeliverySettlesOnce(t *testing.T) {
	store, provider := approvedPaymentFixture()
	processor, mailer, publisher := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)
	sig := signWebhook("req-1", "555", "1700000000")
	ctx := context.Background()

	first, err := processor.HandleWebhook(ctx, "t1", sig, "req-1", body)
	require.NoError(t, err)
	assert.True(t, first.Settled)
	assert.False(t, first.Duplicate)

	// Redeliver the same webhook several times.
	for i := 0; i < 3; i++ {
		outcome, err := processor.HandleWebhook(ctx, "t1", sig, "req-1", body)
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.True(t, outcome.Duplicate)
	}

	assert.Equal(t, 8, store.products[42].Stock, "stock decremented exactly once")
	assert.Equal(t, 1, mailer.count(), "confirmation email sent at most once")
	assert.Eventually(t, func() bool { return publisher.count() == 1 },
		time.Second, 10*time.Millisecond, "automation notified exactly once")

	event := store.events[eventKey("t1", "555")]
	require.NotNil(t, event)
	assert.True(t, event.Processed)
	assert.True(t, event.StockUpdated)
	assert.True(t, event.EmailSent)
}

func TestInvalidSignatureRejectedWithoutRow(t *testing.T) {
	store, provider := approvedPaymentFixture()
	processor, _, _ := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)

	_, err := processor.HandleWebhook(context.Background(), "t1", "ts=1700000000,v1=deadbeef", "req-1", body)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, store.events, "no payment event row on signature failure")
}

func TestMissingSignatureRejected(t *testing.T) {
	store, provider := approvedPaymentFixture()
	processor, _, _ := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)
	_, err := processor.HandleWebhook(context.Background(), "t1", "", "req-1", body)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestTenantMetadataMismatchSkipped(t *testing.T) {
	store, provider := approvedPaymentFixture()
	provider.payment.TenantID = "someone-else"
	processor, mailer, _ := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)
	sig := signWebhook("req-1", "555", "1700000000")

	outcome, err := processor.HandleWebhook(context.Background(), "t1", sig, "req-1", body)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, 10, store.products[42].Stock, "stock untouched")
	assert.Equal(t, 0, mailer.count())
	assert.Empty(t, store.events)
}

func TestPendingPaymentRecordedNotSettled(t *testing.T) {
	store, provider := approvedPaymentFixture()
	provider.payment.Status = models.PaymentStatusPending
	processor, mailer, _ := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)
	sig := signWebhook("req-1", "555", "1700000000")

	outcome, err := processor.HandleWebhook(context.Background(), "t1", sig, "req-1", body)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.False(t, outcome.Settled)

	event := store.events[eventKey("t1", "555")]
	require.NotNil(t, event)
	assert.False(t, event.Processed)
	assert.Equal(t, 10, store.products[42].Stock)
	assert.Equal(t, 0, mailer.count())
}

func TestVanishedProductLeavesStockFlagUnset(t *testing.T) {
	store, provider := approvedPaymentFixture()
	provider.payment.ProductID = 999
	processor, mailer, _ := newTestProcessor(store, provider)

	body := []byte(`{"type":"payment","data":{"id":"555"}}`)
	sig := signWebhook("req-1", "555", "1700000000")

	outcome, err := processor.HandleWebhook(context.Background(), "t1", sig, "req-1", body)
	require.NoError(t, err)
	assert.True(t, outcome.Settled)

	event := store.events[eventKey("t1", "555")]
	require.NotNil(t, event)
	assert.True(t, event.Processed)
	assert.False(t, event.StockUpdated, "no decrement happened, flag must stay false")
	assert.True(t, event.EmailSent, "email side effect is independent of stock")
	assert.Equal(t, 1, mailer.count())
}

func TestMalformedBodyRejected(t *testing.T) {
	store, provider := approvedPaymentFixture()
	processor, _, _ := newTestProcessor(store, provider)

	_, err := processor.HandleWebhook(context.Background(), "t1", "sig", "req-1", []byte("not json"))
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = processor.HandleWebhook(context.Background(), "t1", "sig", "req-1", []byte(`{"type":"payment","data":{}}`))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	processor, _, _ := newTestProcessor(newFakeEventStore(), &fakeProvider{payment: &Payment{}})

	sig := signWebhook("req-9", "777", "1700000001")
	assert.NoError(t, processor.VerifySignature(sig, "req-9", "777"))
	assert.ErrorIs(t, processor.VerifySignature(sig, "req-other", "777"), ErrBadSignature)
	assert.ErrorIs(t, processor.VerifySignature(sig, "req-9", "778"), ErrBadSignature)
}
