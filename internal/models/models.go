package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Tenant is one business account; the unit of configuration and data partitioning.
type Tenant struct {
	ID              string         `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Plan            string         `db:"plan" json:"plan"`
	BotName         string         `db:"bot_name" json:"bot_name"`
	BotTone         string         `db:"bot_tone" json:"bot_tone"`
	WelcomeMessage  string         `db:"welcome_message" json:"welcome_message"`
	ClosingStrategy string         `db:"closing_strategy" json:"closing_strategy"`
	OwnerEmail      string         `db:"owner_email" json:"owner_email"`
	PaymentToken    string         `db:"payment_token" json:"-"`
	AutomationURL   sql.NullString `db:"automation_url" json:"-"`
	ToolServersJSON []byte         `db:"tool_servers" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// ToolServer is one tenant-registered external tool endpoint.
type ToolServer struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	AuthMode string `json:"auth_mode"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ToolServers decodes the tenant's registered tool server list.
func (t *Tenant) ToolServers() []ToolServer {
	if len(t.ToolServersJSON) == 0 {
		return nil
	}
	var servers []ToolServer
	if err := json.Unmarshal(t.ToolServersJSON, &servers); err != nil {
		return nil
	}
	return servers
}

// Tool server auth modes
const (
	ToolAuthNone   = "none"
	ToolAuthBearer = "bearer"
	ToolAuthAPIKey = "api-key"
	ToolAuthBasic  = "basic"
)

// Plan tiers
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Contact-closing strategies
const (
	ClosingPaymentLink   = "payment_link"
	ClosingHumanHandoff  = "human_handoff"
	ClosingCustomMessage = "custom_message"
)

// Channel is one connected messaging surface for a tenant.
type Channel struct {
	ID            int64     `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	Provider      string    `db:"provider" json:"provider"`
	ExternalID    string    `db:"external_id" json:"external_id"`
	AccessToken   string    `db:"access_token" json:"-"`
	WebhookSecret string    `db:"webhook_secret" json:"-"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Channel providers
const (
	ProviderWidget    = "widget"
	ProviderWhatsApp  = "whatsapp"
	ProviderMessenger = "messenger"
	ProviderInstagram = "instagram"
	ProviderTikTok    = "tiktok"
)

// Contact is a deduplicated end-customer identity per (tenant, channel, identifier).
type Contact struct {
	ID                 int64          `db:"id" json:"id"`
	TenantID           string         `db:"tenant_id" json:"tenant_id"`
	Channel            string         `db:"channel" json:"channel"`
	Identifier         string         `db:"identifier" json:"identifier"`
	Name               sql.NullString `db:"name" json:"name,omitempty"`
	Email              sql.NullString `db:"email" json:"email,omitempty"`
	Phone              sql.NullString `db:"phone" json:"phone,omitempty"`
	Tags               sql.NullString `db:"tags" json:"tags,omitempty"`
	Notes              sql.NullString `db:"notes" json:"notes,omitempty"`
	CanonicalContactID sql.NullInt64  `db:"canonical_contact_id" json:"canonical_contact_id,omitempty"`
	LastSeenAt         time.Time      `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}

// ChatLog is one user/bot message pair. Append-only.
type ChatLog struct {
	ID          int64          `db:"id" json:"id"`
	TenantID    string         `db:"tenant_id" json:"tenant_id"`
	Channel     string         `db:"channel" json:"channel"`
	Sender      string         `db:"sender" json:"sender"`
	UserMessage string         `db:"user_message" json:"user_message"`
	BotReply    string         `db:"bot_reply" json:"bot_reply"`
	Intent      sql.NullString `db:"intent" json:"intent,omitempty"`
	PaymentLink sql.NullString `db:"payment_link" json:"payment_link,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// PaymentEvent is the unit of settlement idempotency, one row per (tenant, payment_id).
type PaymentEvent struct {
	ID           int64          `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	PaymentID    string         `db:"payment_id" json:"payment_id"`
	Status       string         `db:"status" json:"status"`
	ProductID    sql.NullInt64  `db:"product_id" json:"product_id,omitempty"`
	Quantity     int            `db:"quantity" json:"quantity"`
	PayerEmail   sql.NullString `db:"payer_email" json:"payer_email,omitempty"`
	Amount       int64          `db:"amount" json:"amount"`
	Currency     string         `db:"currency" json:"currency"`
	RawPayload   []byte         `db:"raw_payload" json:"-"`
	StockUpdated bool           `db:"stock_updated" json:"stock_updated"`
	EmailSent    bool           `db:"email_sent" json:"email_sent"`
	Processed    bool           `db:"processed" json:"processed"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Payment statuses as reported by the provider
const (
	PaymentStatusApproved = "approved"
	PaymentStatusPending  = "pending"
	PaymentStatusRejected = "rejected"
)

// Product is a catalog item with price and stock.
type Product struct {
	ID          int64          `db:"id" json:"id"`
	TenantID    string         `db:"tenant_id" json:"tenant_id"`
	Name        string         `db:"name" json:"name"`
	Description sql.NullString `db:"description" json:"description,omitempty"`
	Price       int64          `db:"price" json:"price"`
	Currency    string         `db:"currency" json:"currency"`
	Stock       int            `db:"stock" json:"stock"`
	Keywords    sql.NullString `db:"keywords" json:"keywords,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// OwnerAlert records a first-contact notification to the tenant owner.
type OwnerAlert struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Channel   string    `db:"channel" json:"channel"`
	Sender    string    `db:"sender" json:"sender"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Detected intents
const (
	IntentPurchase       = "purchase_intent"
	IntentProductInquiry = "product_inquiry"
	IntentGeneral        = "general"
)
