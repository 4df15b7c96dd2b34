package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_messages_processed_total",
		Help: "Total number of inbound messages processed",
	}, []string{"channel"})

	MessagesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_messages_failed_total",
		Help: "Total number of inbound messages that ended in a fallback reply",
	}, []string{"reason"})

	RateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Total number of messages rejected by the per-tenant rate limiter",
	})

	CompletionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_completion_latency_seconds",
		Help:    "Latency of AI completion calls",
		Buckets: prometheus.DefBuckets,
	})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_tool_calls_total",
		Help: "Total number of tool invocations requested by the model",
	}, []string{"tool", "outcome"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_settlements_total",
		Help: "Total number of payment settlement attempts",
	}, []string{"outcome"})

	DuplicateWebhooksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_duplicate_webhooks_total",
		Help: "Total number of payment webhooks short-circuited as duplicates",
	})

	TenantMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_tenant_mismatch_total",
		Help: "Total number of payment webhooks dropped on tenant metadata mismatch",
	})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confirmation_emails_total",
		Help: "Total number of confirmation email attempts",
	}, []string{"outcome"})

	OwnerAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "owner_alerts_total",
		Help: "Total number of first-message owner alerts sent",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
