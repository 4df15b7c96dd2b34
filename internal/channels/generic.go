package channels

import (
	"context"
	"encoding/json"

	"salesbot/internal/models"
)

const genericMaxLength = 4000

// GenericAdapter serves the web widget and the synchronous API path, where the
// reply travels back in the HTTP response. SendReply is a no-op; it is also the
// registry fallback for unknown channel types.
type GenericAdapter struct{}

func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{}
}

func (a *GenericAdapter) Type() string {
	return models.ProviderWidget
}

type genericPayload struct {
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
}

func (a *GenericAdapter) ParseIncoming(raw []byte) (*NormalizedMessage, bool) {
	var payload genericPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if payload.SenderID == "" || payload.Message == "" {
		return nil, false
	}
	return &NormalizedMessage{
		Provider: models.ProviderWidget,
		Sender:   payload.SenderID,
		Text:     payload.Message,
	}, true
}

func (a *GenericAdapter) SendReply(_ context.Context, _ *models.Channel, _, _ string) error {
	return nil
}

func (a *GenericAdapter) FormatMessage(text string) string {
	return truncate(text, genericMaxLength)
}
