package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salesbot/internal/models"

	"github.com/go-resty/resty/v2"
)

const tiktokMaxLength = 2000

// TikTokAdapter handles TikTok business DM webhooks.
type TikTokAdapter struct {
	client *resty.Client
}

func NewTikTokAdapter() *TikTokAdapter {
	return &TikTokAdapter{
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (a *TikTokAdapter) Type() string {
	return models.ProviderTikTok
}

type tiktokEnvelope struct {
	Event    string `json:"event"`
	ClientID string `json:"client_id"`
	Content  struct {
		SenderID string `json:"sender_id"`
		Text     string `json:"text"`
	} `json:"content"`
}

func (a *TikTokAdapter) ParseIncoming(raw []byte) (*NormalizedMessage, bool) {
	var envelope tiktokEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	if envelope.Event != "direct_message" || envelope.Content.SenderID == "" || envelope.Content.Text == "" {
		return nil, false
	}

	return &NormalizedMessage{
		Provider:          models.ProviderTikTok,
		ChannelExternalID: envelope.ClientID,
		Sender:            envelope.Content.SenderID,
		Text:              envelope.Content.Text,
	}, true
}

func (a *TikTokAdapter) SendReply(ctx context.Context, channel *models.Channel, recipient, text string) error {
	body := map[string]interface{}{
		"recipient_id": recipient,
		"text":         a.FormatMessage(text),
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(channel.AccessToken).
		SetBody(body).
		Post("https://business-api.tiktok.com/open_api/v1.3/im/message/send/")
	if err != nil {
		return fmt.Errorf("tiktok send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("tiktok send failed: status %d", resp.StatusCode())
	}
	return nil
}

func (a *TikTokAdapter) FormatMessage(text string) string {
	return truncate(text, tiktokMaxLength)
}
