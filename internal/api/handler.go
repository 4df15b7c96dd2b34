package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"salesbot/internal/bot"
	"salesbot/internal/channels"
	"salesbot/internal/models"
	"salesbot/internal/payments"
	"salesbot/internal/ratelimit"
	"salesbot/internal/store"
	"salesbot/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Responder runs one conversation turn.
type Responder interface {
	Respond(ctx context.Context, req bot.TurnRequest) (*bot.TurnResult, error)
}

// PaymentProcessor handles payment provider webhooks.
type PaymentProcessor interface {
	HandleWebhook(ctx context.Context, tenantID, sigHeader, requestID string, body []byte) (*payments.Outcome, error)
}

// ChannelStore resolves tenants and their connected channels.
type ChannelStore interface {
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetChannel(ctx context.Context, tenantID, provider string) (*models.Channel, error)
	GetChannelByExternalID(ctx context.Context, provider, externalID string) (*models.Channel, error)
}

// ContactRegistry tracks customer identities and first-contact alerts.
type ContactRegistry interface {
	EnsureContact(ctx context.Context, tenantID, channel, identifier string) (*models.Contact, error)
	NotifyOwnerOnFirstMessage(ctx context.Context, tenant *models.Tenant, channel, sender string) error
}

// Transcriber converts voice-note media into text.
type Transcriber interface {
	ResolveMediaURL(ctx context.Context, channel *models.Channel, mediaID string) (string, error)
	Transcribe(ctx context.Context, channel *models.Channel, mediaURL string) (string, error)
}

const emptyMessageApology = "Sorry, I couldn't make out that message. Could you type it out for me?"

// Handler contains HTTP handlers
type Handler struct {
	store           ChannelStore
	orchestrator    Responder
	limiter         *ratelimit.Limiter
	adapters        *channels.Registry
	processor       PaymentProcessor
	contacts        ContactRegistry
	transcriber     Transcriber
	metaVerifyToken string
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(channelStore ChannelStore, orchestrator Responder, limiter *ratelimit.Limiter, adapters *channels.Registry, processor PaymentProcessor, contactRegistry ContactRegistry, transcriber Transcriber, metaVerifyToken string) *Handler {
	return &Handler{
		store:           channelStore,
		orchestrator:    orchestrator,
		limiter:         limiter,
		adapters:        adapters,
		processor:       processor,
		contacts:        contactRegistry,
		transcriber:     transcriber,
		metaVerifyToken: metaVerifyToken,
		logger:          util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/bot/:tenant_id", h.botMessage)
	router.GET("/bot/:tenant_id", h.botLiveness)

	router.POST("/channels/webhook/:tenant_id", h.channelWebhook)

	router.GET("/webhooks/meta", h.metaVerify)
	router.POST("/webhooks/meta", h.metaWebhook)
	router.POST("/webhooks/tiktok", h.tiktokWebhook)

	router.POST("/webhooks/payment", h.paymentWebhook)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// botLiveness answers the widget's session check.
func (h *Handler) botLiveness(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, err := h.store.GetTenantByID(c.Request.Context(), tenantID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Unknown tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "online"})
}

type botMessageRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"session_id"`
	UserIdentifier string `json:"user_identifier"`
	Channel        string `json:"channel"`
}

// botMessage handles the public widget/API endpoint.
func (h *Handler) botMessage(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	var req botMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
		})
		return
	}

	if result := h.limiter.Check(c.Request.Context(), tenantID); !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"error":       "Too many messages, slow down",
			"retry_after": result.RetryAfter,
		})
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = models.ProviderWidget
	}
	sender := req.UserIdentifier
	if sender == "" {
		sender = req.SessionID
	}
	if sender == "" {
		sender = "anonymous"
	}

	if req.UserIdentifier != "" {
		if _, err := h.contacts.EnsureContact(c.Request.Context(), tenantID, channel, req.UserIdentifier); err != nil {
			h.logger.Warn("Contact upsert failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}

	result, err := h.orchestrator.Respond(c.Request.Context(), bot.TurnRequest{
		TenantID:  tenantID,
		Channel:   channel,
		Sender:    sender,
		SessionID: req.SessionID,
		Text:      req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Message is required"})
		case errors.Is(err, store.ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Unknown tenant"})
		default:
			h.logger.Error("Bot turn failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process message"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         result.Message,
		"intent_detected": result.IntentDetected,
		"payment_link":    result.PaymentLink,
	})
}

type channelWebhookRequest struct {
	Channel       string `json:"channel" binding:"required"`
	SenderID      string `json:"sender_id" binding:"required"`
	Message       string `json:"message"`
	WebhookSecret string `json:"webhook_secret"`
}

// channelWebhook is the per-tenant inbound hook for custom integrations.
func (h *Handler) channelWebhook(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	ctx := c.Request.Context()

	var req channelWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	tenant, err := h.store.GetTenantByID(ctx, tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Unknown tenant"})
		return
	}

	channel, err := h.store.GetChannel(ctx, tenantID, req.Channel)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Channel not configured"})
		return
	}

	if channel.WebhookSecret != "" && req.WebhookSecret != channel.WebhookSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid webhook secret"})
		return
	}

	if result := h.limiter.Check(ctx, tenantID); !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"error":       "Too many messages, slow down",
			"retry_after": result.RetryAfter,
		})
		return
	}

	reply, err := h.runChannelTurn(ctx, tenant, channel, &channels.NormalizedMessage{
		Provider: req.Channel,
		Sender:   req.SenderID,
		Text:     req.Message,
	})
	if err != nil {
		if errors.Is(err, bot.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Message is required"})
			return
		}
		h.logger.Error("Channel webhook turn failed",
			zap.String("tenant_id", tenantID),
			zap.String("channel", req.Channel),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": reply.Message})
}

// metaVerify answers the Meta webhook subscription challenge.
func (h *Handler) metaVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.metaVerifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// metaWebhook receives WhatsApp, Messenger and Instagram events. The provider
// retries on non-2xx, so every outcome short of a transport failure is a 200;
// problems are logged instead.
func (h *Handler) metaWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	provider := providerForObject(body)
	h.dispatchProviderEvent(c.Request.Context(), provider, body)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// tiktokWebhook receives TikTok direct-message events.
func (h *Handler) tiktokWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	h.dispatchProviderEvent(c.Request.Context(), models.ProviderTikTok, body)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// providerForObject maps the Meta envelope discriminator to a channel provider.
func providerForObject(body []byte) string {
	var envelope struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	switch envelope.Object {
	case "whatsapp_business_account":
		return models.ProviderWhatsApp
	case "page":
		return models.ProviderMessenger
	case "instagram":
		return models.ProviderInstagram
	}
	return ""
}

// dispatchProviderEvent parses one provider payload and runs the full turn,
// including the outbound reply. All failures are logged only.
func (h *Handler) dispatchProviderEvent(ctx context.Context, provider string, body []byte) {
	if provider == "" {
		h.logger.Warn("Unrecognized provider payload")
		return
	}

	adapter := h.adapters.Get(provider)
	msg, ok := adapter.ParseIncoming(body)
	if !ok {
		h.logger.Warn("Unparseable provider payload", zap.String("provider", provider))
		return
	}

	channel, err := h.store.GetChannelByExternalID(ctx, provider, msg.ChannelExternalID)
	if err != nil {
		h.logger.Warn("No active channel for inbound event",
			zap.String("provider", provider),
			zap.String("external_id", msg.ChannelExternalID))
		return
	}

	tenant, err := h.store.GetTenantByID(ctx, channel.TenantID)
	if err != nil {
		h.logger.Error("Channel references missing tenant",
			zap.String("tenant_id", channel.TenantID),
			zap.Error(err))
		return
	}

	if result := h.limiter.Check(ctx, tenant.ID); !result.Allowed {
		h.logger.Info("Inbound message dropped by rate limiter",
			zap.String("tenant_id", tenant.ID),
			zap.String("provider", provider))
		return
	}

	if msg.Text == "" && msg.MediaID != "" {
		msg.Text = h.transcribeVoiceNote(ctx, channel, msg)
	}

	result, err := h.runChannelTurn(ctx, tenant, channel, msg)
	if err != nil {
		h.logger.Warn("Provider turn failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("provider", provider),
			zap.Error(err))
		// A customer whose voice note could not be transcribed still gets an
		// answer; silence looks like a dead bot.
		if errors.Is(err, bot.ErrEmptyMessage) {
			apology := adapter.FormatMessage(emptyMessageApology)
			if sendErr := adapter.SendReply(ctx, channel, msg.Sender, apology); sendErr != nil {
				h.logger.Error("Failed to send apology",
					zap.String("tenant_id", tenant.ID),
					zap.String("provider", provider),
					zap.Error(sendErr))
			}
		}
		return
	}

	reply := adapter.FormatMessage(result.Message)
	if err := adapter.SendReply(ctx, channel, msg.Sender, reply); err != nil {
		h.logger.Error("Failed to send reply",
			zap.String("tenant_id", tenant.ID),
			zap.String("provider", provider),
			zap.Error(err))
	}
}

func (h *Handler) transcribeVoiceNote(ctx context.Context, channel *models.Channel, msg *channels.NormalizedMessage) string {
	mediaURL := msg.MediaURL
	if mediaURL == "" {
		url, err := h.transcriber.ResolveMediaURL(ctx, channel, msg.MediaID)
		if err != nil {
			h.logger.Warn("Media resolution failed",
				zap.String("tenant_id", channel.TenantID),
				zap.Error(err))
			return ""
		}
		mediaURL = url
	}

	text, err := h.transcriber.Transcribe(ctx, channel, mediaURL)
	if err != nil {
		h.logger.Warn("Transcription failed",
			zap.String("tenant_id", channel.TenantID),
			zap.Error(err))
		return ""
	}
	return text
}

// runChannelTurn registers the contact, fires the first-message owner alert
// and runs the orchestrator for one external-channel message.
func (h *Handler) runChannelTurn(ctx context.Context, tenant *models.Tenant, channel *models.Channel, msg *channels.NormalizedMessage) (*bot.TurnResult, error) {
	if _, err := h.contacts.EnsureContact(ctx, tenant.ID, channel.Provider, msg.Sender); err != nil {
		h.logger.Warn("Contact upsert failed",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
	}

	if err := h.contacts.NotifyOwnerOnFirstMessage(ctx, tenant, channel.Provider, msg.Sender); err != nil {
		h.logger.Warn("Owner alert check failed",
			zap.String("tenant_id", tenant.ID),
			zap.Error(err))
	}

	return h.orchestrator.Respond(ctx, bot.TurnRequest{
		TenantID: tenant.ID,
		Channel:  channel.Provider,
		Sender:   msg.Sender,
		Text:     msg.Text,
	})
}

// paymentWebhook receives payment provider notifications. Only a signature
// failure answers 401; every other outcome is a 200, since a retry cannot fix
// a malformed payload and duplicates are handled inside the processor.
// Problems are logged instead.
func (h *Handler) paymentWebhook(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		h.logger.Warn("Payment webhook without tenant_id")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "tenant_id is required"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	outcome, err := h.processor.HandleWebhook(c.Request.Context(),
		tenantID,
		c.GetHeader("X-Signature"),
		c.GetHeader("X-Request-Id"),
		body)
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid signature"})
			return
		}
		h.logger.Error("Payment webhook failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
