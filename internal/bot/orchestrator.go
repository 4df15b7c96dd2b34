package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesbot/config"
	"salesbot/internal/ai"
	"salesbot/internal/models"
	"salesbot/internal/payments"
	"salesbot/internal/util"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var ErrEmptyMessage = errors.New("empty message")

const (
	apologyReply           = "Sorry, I'm having trouble answering right now. Please try again in a moment."
	procedureCompleteReply = "Procedure complete. Is there anything else I can help you with?"

	catalogCacheTTL = 60 * time.Second
)

// TurnRequest is one inbound customer message, already normalized by the
// channel layer.
type TurnRequest struct {
	TenantID  string
	Channel   string
	Sender    string
	SessionID string
	Text      string
}

// TurnResult is the reply produced for one turn.
type TurnResult struct {
	Message        string `json:"message"`
	IntentDetected string `json:"intent_detected,omitempty"`
	PaymentLink    string `json:"payment_link,omitempty"`
}

// DataStore is the persistence surface the orchestrator needs.
type DataStore interface {
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetProductsByTenant(ctx context.Context, tenantID string) ([]models.Product, error)
	SearchProducts(ctx context.Context, tenantID, query string) ([]models.Product, error)
	GetProductByID(ctx context.Context, tenantID string, id int64) (*models.Product, error)
	AppendChatLog(ctx context.Context, entry *models.ChatLog) error
	UpdateContactField(ctx context.Context, tenantID, channel, identifier, field, value string) error
}

// LinkCreator creates hosted checkout links. Satisfied by the payment
// provider client.
type LinkCreator interface {
	CreatePreference(ctx context.Context, accessToken string, pref payments.PreferenceRequest) (string, error)
}

// Orchestrator turns one inbound message into a tool-augmented AI reply.
// Handlers are stateless; all conversation state lives in the session store.
type Orchestrator struct {
	store      DataStore
	sessions   SessionStore
	completer  ai.Completer
	links      LinkCreator
	tools      ToolInvoker
	catalog    *cache.Cache
	maxRounds  int
	window     int
	sessionTTL time.Duration
	logger     *zap.Logger
}

func NewOrchestrator(store DataStore, sessions SessionStore, completer ai.Completer, links LinkCreator, tools ToolInvoker, aiCfg config.AIConfig, limits config.LimitsConfig) *Orchestrator {
	maxRounds := aiCfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}
	window := limits.HistoryWindow
	if window <= 0 {
		window = 20
	}
	ttl := time.Duration(limits.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Orchestrator{
		store:      store,
		sessions:   sessions,
		completer:  completer,
		links:      links,
		tools:      tools,
		catalog:    cache.New(catalogCacheTTL, 5*time.Minute),
		maxRounds:  maxRounds,
		window:     window,
		sessionTTL: ttl,
		logger:     util.GetLogger(),
	}
}

// Respond runs one full conversation turn: load history, call the completion
// service with the tenant's tools, execute requested tool calls in a bounded
// loop, persist the exchange, and return the reply.
func (o *Orchestrator) Respond(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Respond")
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	tenant, err := o.store.GetTenantByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	channel := req.Channel
	if channel == "" {
		channel = models.ProviderWidget
	}

	key := sessionKey(tenant.ID, channel, req.Sender, req.SessionID)
	session := &Session{}
	if _, err := o.sessions.GetSession(ctx, key, session); err != nil {
		o.logger.Warn("Session load failed, starting fresh",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
		session = &Session{}
	}

	messages := make([]ai.ChatMessage, 0, len(session.Messages)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    ai.RoleSystem,
		Content: o.systemPrompt(ctx, tenant),
	})
	messages = append(messages, session.Messages...)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: text})

	toolDefs := o.builtinTools(tenant, channel)
	externals := make(map[string]ExternalTool)
	for _, external := range o.tools.FetchTools(ctx, tenant.ToolServers()) {
		externals[external.Def.Function.Name] = external
		toolDefs = append(toolDefs, external.Def)
	}

	turn := &turnState{}
	reply, err := o.runToolLoop(ctx, tenant, channel, req.Sender, messages, toolDefs, externals, turn)
	if err != nil {
		util.MessagesFailedTotal.WithLabelValues("ai_error").Inc()
		o.logger.Error("Completion failed, replying with fallback",
			zap.String("tenant_id", tenant.ID),
			zap.String("channel", channel),
			zap.Error(err))
		reply = apologyReply
	}

	intent := detectIntent(turn)

	entry := &models.ChatLog{
		TenantID:    tenant.ID,
		Channel:     channel,
		Sender:      req.Sender,
		UserMessage: text,
		BotReply:    reply,
		Intent:      sql.NullString{String: intent, Valid: true},
	}
	if turn.paymentLink != "" {
		entry.PaymentLink = sql.NullString{String: turn.paymentLink, Valid: true}
	}
	if err := o.store.AppendChatLog(ctx, entry); err != nil {
		o.logger.Error("Failed to persist chat log",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
	}

	session.Messages = append(session.Messages,
		ai.ChatMessage{Role: ai.RoleUser, Content: text},
		ai.ChatMessage{Role: ai.RoleAssistant, Content: reply})
	session.trim(o.window)
	if err := o.sessions.SaveSession(ctx, key, session, o.sessionTTL); err != nil {
		o.logger.Error("Failed to save session",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
	}

	util.MessagesProcessedTotal.WithLabelValues(channel).Inc()

	return &TurnResult{
		Message:        reply,
		IntentDetected: intent,
		PaymentLink:    turn.paymentLink,
	}, nil
}

// runToolLoop alternates completion rounds and tool execution until the model
// produces final text or the round cap is hit.
func (o *Orchestrator) runToolLoop(ctx context.Context, tenant *models.Tenant, channel, sender string, messages []ai.ChatMessage, toolDefs []ai.Tool, externals map[string]ExternalTool, turn *turnState) (string, error) {
	for round := 0; round < o.maxRounds; round++ {
		msg, err := o.completer.Complete(ctx, messages, toolDefs)
		if err != nil {
			return "", err
		}
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, *msg)
		for _, call := range msg.ToolCalls {
			result := o.executeTool(ctx, tenant, channel, sender, call, externals, turn)
			messages = append(messages, ai.ChatMessage{
				Role:       ai.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}

	o.logger.Warn("Tool round cap exceeded",
		zap.String("tenant_id", tenant.ID),
		zap.Int("max_rounds", o.maxRounds))
	return procedureCompleteReply, nil
}

// systemPrompt builds the persona plus a catalog snapshot. The snapshot is
// cached briefly so bursts of messages do not hammer the catalog table.
func (o *Orchestrator) systemPrompt(ctx context.Context, tenant *models.Tenant) string {
	var b strings.Builder

	botName := tenant.BotName
	if botName == "" {
		botName = "Assistant"
	}
	fmt.Fprintf(&b, "You are %s, the sales assistant for %s.", botName, tenant.Name)
	if tenant.BotTone != "" {
		fmt.Fprintf(&b, " Speak in a %s tone.", tenant.BotTone)
	}
	b.WriteString(" Answer in the customer's language. Only discuss this store and its catalog.\n")

	switch tenant.ClosingStrategy {
	case models.ClosingHumanHandoff:
		b.WriteString("When the customer wants to buy, collect their contact details and tell them a person will follow up.\n")
	case models.ClosingCustomMessage:
		if tenant.WelcomeMessage != "" {
			fmt.Fprintf(&b, "When the customer wants to buy, close with: %s\n", tenant.WelcomeMessage)
		}
	default:
		b.WriteString("When the customer wants to buy and checkout is available, create a payment link for them.\n")
	}

	products := o.catalogSnapshot(ctx, tenant.ID)
	if len(products) > 0 {
		b.WriteString("\nCatalog:\n")
		for _, p := range products {
			fmt.Fprintf(&b, "- [%d] %s: %s %s (%d in stock)",
				p.ID, p.Name, formatPrice(p.Price), p.Currency, p.Stock)
			if p.Keywords.Valid && p.Keywords.String != "" {
				fmt.Fprintf(&b, " [%s]", p.Keywords.String)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func (o *Orchestrator) catalogSnapshot(ctx context.Context, tenantID string) []models.Product {
	if cached, found := o.catalog.Get(tenantID); found {
		return cached.([]models.Product)
	}

	products, err := o.store.GetProductsByTenant(ctx, tenantID)
	if err != nil {
		o.logger.Warn("Catalog snapshot load failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil
	}

	o.catalog.Set(tenantID, products, cache.DefaultExpiration)
	return products
}

func detectIntent(turn *turnState) string {
	switch {
	case turn.paymentLink != "":
		return models.IntentPurchase
	case turn.searched:
		return models.IntentProductInquiry
	default:
		return models.IntentGeneral
	}
}
