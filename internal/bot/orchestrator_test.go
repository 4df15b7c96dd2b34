package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"salesbot/config"
	"salesbot/internal/ai"
	"salesbot/internal/models"
	"salesbot/internal/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotStore struct {
	tenants  map[string]*models.Tenant
	products []models.Product
	logs     []*models.ChatLog
	fields   map[string]string
}

func newFakeBotStore(tenant *models.Tenant, products ...models.Product) *fakeBotStore {
	return &fakeBotStore{
		tenants:  map[string]*models.Tenant{tenant.ID: tenant},
		products: products,
		fields:   make(map[string]string),
	}
}

func (f *fakeBotStore) GetTenantByID(_ context.Context, tenantID string) (*models.Tenant, error) {
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant not found: %s", tenantID)
	}
	return tenant, nil
}

func (f *fakeBotStore) GetProductsByTenant(_ context.Context, _ string) ([]models.Product, error) {
	return f.products, nil
}

func (f *fakeBotStore) SearchProducts(_ context.Context, _ string, query string) ([]models.Product, error) {
	var matches []models.Product
	for _, p := range f.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (f *fakeBotStore) GetProductByID(_ context.Context, _ string, id int64) (*models.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			copied := p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("product not found: %d", id)
}

func (f *fakeBotStore) AppendChatLog(_ context.Context, entry *models.ChatLog) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeBotStore) UpdateContactField(_ context.Context, _, _, _, field, value string) error {
	f.fields[field] = value
	return nil
}

type fakeSessions struct {
	data map[string][]byte
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: make(map[string][]byte)}
}

func (f *fakeSessions) GetSession(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeSessions) SaveSession(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

// scriptedCompleter replays a fixed sequence of assistant messages and
// records the tool definitions it was offered.
type scriptedCompleter struct {
	responses []ai.ChatMessage
	err       error
	calls     int
	lastTools []ai.Tool
}

func (c *scriptedCompleter) Complete(_ context.Context, _ []ai.ChatMessage, tools []ai.Tool) (*ai.ChatMessage, error) {
	c.lastTools = tools
	if c.err != nil {
		return nil, c.err
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	msg := c.responses[idx]
	return &msg, nil
}

type fakeLinks struct {
	link     string
	requests []payments.PreferenceRequest
}

func (f *fakeLinks) CreatePreference(_ context.Context, _ string, pref payments.PreferenceRequest) (string, error) {
	f.requests = append(f.requests, pref)
	return f.link, nil
}

type fakeInvoker struct {
	tools   []ExternalTool
	results map[string]string
}

func (f *fakeInvoker) FetchTools(_ context.Context, _ []models.ToolServer) []ExternalTool {
	return f.tools
}

func (f *fakeInvoker) Invoke(_ context.Context, _ models.ToolServer, tool, _ string) (string, error) {
	result, ok := f.results[tool]
	if !ok {
		return "", errors.New("server down")
	}
	return result, nil
}

func proTenant() *models.Tenant {
	return &models.Tenant{
		ID:           "t1",
		Name:         "Tienda Uno",
		Plan:         models.PlanPro,
		BotName:      "Vera",
		BotTone:      "friendly",
		PaymentToken: "tok",
	}
}

func blackShirt() models.Product {
	return models.Product{ID: 1, TenantID: "t1", Name: "Polera negra", Price: 1590000, Currency: "CLP", Stock: 5}
}

func newTestOrchestrator(store *fakeBotStore, completer ai.Completer, links LinkCreator, invoker ToolInvoker) (*Orchestrator, *fakeSessions) {
	sessions := newFakeSessions()
	orchestrator := NewOrchestrator(store, sessions, completer, links, invoker,
		config.AIConfig{MaxToolRounds: 5},
		config.LimitsConfig{HistoryWindow: 20, SessionTTLHours: 24})
	return orchestrator, sessions
}

func toolCallMessage(id, name, arguments string) ai.ChatMessage {
	return ai.ChatMessage{
		Role: ai.RoleAssistant,
		ToolCalls: []ai.ToolCall{{
			ID:   id,
			Type: "function",
			Function: ai.ToolCallFunction{
				Name:      name,
				Arguments: arguments,
			},
		}},
	}
}

func TestPurchaseScenarioReturnsCheckoutLink(t *testing.T) {
	store := newFakeBotStore(proTenant(), blackShirt())
	links := &fakeLinks{link: "https://pay.example.com/checkout/pref-123"}
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		toolCallMessage("call-1", toolCreatePaymentLink, `{"product_id":1,"quantity":1}`),
		{Role: ai.RoleAssistant, Content: "¡Perfecto! Paga aquí: https://pay.example.com/checkout/pref-123"},
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, links, &fakeInvoker{})

	result, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWhatsApp,
		Sender:   "+56912345678",
		Text:     "quiero comprar la polera negra",
	})
	require.NoError(t, err)

	assert.Contains(t, result.Message, "https://pay.example.com/checkout/pref-123")
	assert.Equal(t, models.IntentPurchase, result.IntentDetected)
	assert.Equal(t, "https://pay.example.com/checkout/pref-123", result.PaymentLink)

	require.Len(t, links.requests, 1)
	assert.Equal(t, int64(1), links.requests[0].ProductID)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.IntentPurchase, store.logs[0].Intent.String)
	assert.Equal(t, "https://pay.example.com/checkout/pref-123", store.logs[0].PaymentLink.String)
}

func TestEmptyMessageRejected(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(newFakeBotStore(proTenant()), &scriptedCompleter{}, &fakeLinks{}, &fakeInvoker{})

	_, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Text:     "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestUnknownTenantPropagates(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(newFakeBotStore(proTenant()), &scriptedCompleter{}, &fakeLinks{}, &fakeInvoker{})

	_, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "ghost",
		Text:     "hola",
	})
	assert.Error(t, err)
}

func TestCompletionFailureFallsBackToApology(t *testing.T) {
	store := newFakeBotStore(proTenant(), blackShirt())
	completer := &scriptedCompleter{err: errors.New("upstream timeout")}
	orchestrator, _ := newTestOrchestrator(store, completer, &fakeLinks{}, &fakeInvoker{})

	result, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWidget,
		Sender:   "visitor-1",
		Text:     "hola",
	})
	require.NoError(t, err)
	assert.Equal(t, apologyReply, result.Message)
	assert.Equal(t, models.IntentGeneral, result.IntentDetected)
	require.Len(t, store.logs, 1, "fallback exchange still logged")
}

func TestToolRoundCapFallsBack(t *testing.T) {
	store := newFakeBotStore(proTenant(), blackShirt())
	// The model keeps asking for the same search and never finishes.
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		toolCallMessage("call-1", toolSearchCatalog, `{"query":"polera"}`),
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, &fakeLinks{}, &fakeInvoker{})

	result, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWidget,
		Sender:   "visitor-1",
		Text:     "busca poleras",
	})
	require.NoError(t, err)
	assert.Equal(t, procedureCompleteReply, result.Message)
	assert.Equal(t, 5, completer.calls)
}

func TestPaymentLinkToolGatedByPlan(t *testing.T) {
	tenant := proTenant()
	tenant.Plan = models.PlanFree
	store := newFakeBotStore(tenant, blackShirt())
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		{Role: ai.RoleAssistant, Content: "hola"},
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, &fakeLinks{}, &fakeInvoker{})

	_, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWhatsApp,
		Sender:   "+56912345678",
		Text:     "hola",
	})
	require.NoError(t, err)

	for _, tool := range completer.lastTools {
		assert.NotEqual(t, toolCreatePaymentLink, tool.Function.Name)
	}
}

func TestInsufficientStockReportedToModel(t *testing.T) {
	product := blackShirt()
	product.Stock = 1
	store := newFakeBotStore(proTenant(), product)
	links := &fakeLinks{link: "https://pay.example.com/checkout/pref-123"}
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		toolCallMessage("call-1", toolCreatePaymentLink, `{"product_id":1,"quantity":3}`),
		{Role: ai.RoleAssistant, Content: "Solo queda 1 unidad."},
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, links, &fakeInvoker{})

	result, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWhatsApp,
		Sender:   "+56912345678",
		Text:     "quiero tres poleras",
	})
	require.NoError(t, err)

	assert.Empty(t, links.requests, "no checkout link for out-of-stock quantity")
	assert.Empty(t, result.PaymentLink)
	assert.Equal(t, models.IntentGeneral, result.IntentDetected)
}

func TestExternalToolFailureDoesNotAbortTurn(t *testing.T) {
	server := models.ToolServer{Name: "crm", BaseURL: "https://crm.example.com", AuthMode: models.ToolAuthBearer}
	invoker := &fakeInvoker{
		tools: []ExternalTool{{
			Server: server,
			Def:    ai.NewTool("crm_lookup", "Look up a customer", map[string]interface{}{"type": "object"}),
		}},
		// no results registered: every invocation fails
	}
	store := newFakeBotStore(proTenant(), blackShirt())
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		toolCallMessage("call-1", "crm_lookup", `{"phone":"+56912345678"}`),
		{Role: ai.RoleAssistant, Content: "No pude revisar el CRM, pero puedo ayudarte igual."},
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, &fakeLinks{}, invoker)

	result, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWhatsApp,
		Sender:   "+56912345678",
		Text:     "revisa mi cuenta",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Message, "CRM")
}

func TestCaptureContactPersistsField(t *testing.T) {
	store := newFakeBotStore(proTenant(), blackShirt())
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		toolCallMessage("call-1", toolCaptureContact, `{"field":"email","value":"ana@example.com"}`),
		{Role: ai.RoleAssistant, Content: "¡Gracias Ana!"},
	}}
	orchestrator, _ := newTestOrchestrator(store, completer, &fakeLinks{}, &fakeInvoker{})

	_, err := orchestrator.Respond(context.Background(), TurnRequest{
		TenantID: "t1",
		Channel:  models.ProviderWhatsApp,
		Sender:   "+56912345678",
		Text:     "mi correo es ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", store.fields["email"])
}

func TestSessionHistoryPersistedAndTrimmed(t *testing.T) {
	store := newFakeBotStore(proTenant(), blackShirt())
	completer := &scriptedCompleter{responses: []ai.ChatMessage{
		{Role: ai.RoleAssistant, Content: "hola"},
	}}
	sessions := newFakeSessions()
	orchestrator := NewOrchestrator(store, sessions, completer, &fakeLinks{}, &fakeInvoker{},
		config.AIConfig{MaxToolRounds: 5},
		config.LimitsConfig{HistoryWindow: 4, SessionTTLHours: 24})

	for i := 0; i < 5; i++ {
		_, err := orchestrator.Respond(context.Background(), TurnRequest{
			TenantID: "t1",
			Channel:  models.ProviderWidget,
			Sender:   "visitor-1",
			Text:     fmt.Sprintf("mensaje %d", i),
		})
		require.NoError(t, err)
	}

	session := &Session{}
	found, err := sessions.GetSession(context.Background(), sessionKey("t1", models.ProviderWidget, "visitor-1", ""), session)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, session.Messages, 4, "history trimmed to the window")
	assert.Equal(t, "mensaje 4", session.Messages[2].Content)
}

func TestWidgetSessionIDOverridesSenderKey(t *testing.T) {
	assert.Equal(t, "t1:abc", sessionKey("t1", models.ProviderWidget, "visitor-1", "abc"))
	assert.Equal(t, "t1:whatsapp_+569", sessionKey("t1", models.ProviderWhatsApp, "+569", ""))
}
