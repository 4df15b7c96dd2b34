package channels

import (
	"context"
	"strings"
	"sync"

	"salesbot/internal/models"
)

// NormalizedMessage is the channel-agnostic shape of one inbound message.
// Voice notes surface as a media reference instead of text; the orchestrator
// runs transcription before treating the message as empty.
type NormalizedMessage struct {
	Provider          string
	ChannelExternalID string
	Sender            string
	SenderName        string
	Text              string
	MediaID           string
	MediaURL          string
}

// Adapter parses provider payloads and sends replies in the provider's format.
// ParseIncoming must be side-effect-free and report ok=false for payloads it
// does not recognize, never panic or error.
type Adapter interface {
	Type() string
	ParseIncoming(raw []byte) (*NormalizedMessage, bool)
	SendReply(ctx context.Context, channel *models.Channel, recipient, text string) error
	FormatMessage(text string) string
}

// Registry is the dispatch table over channel type, built once at startup.
// Unknown types fall back to the generic no-op adapter so the synchronous bot
// endpoint never needs a real sender.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		fallback: NewGenericAdapter(),
	}
}

// Register adds an adapter keyed by its type.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(adapter.Type())] = adapter
}

// Get returns the adapter for the channel type, or the generic fallback.
func (r *Registry) Get(channelType string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(channelType))]; ok {
		return adapter
	}
	return r.fallback
}

// truncate enforces a provider's message length limit, appending an ellipsis
// marker when text was cut. Rune-safe.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
