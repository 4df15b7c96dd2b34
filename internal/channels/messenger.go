package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"salesbot/internal/models"

	"github.com/go-resty/resty/v2"
)

const messengerMaxLength = 2000

// MessengerAdapter handles the Meta page envelope for Facebook Messenger.
type MessengerAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewMessengerAdapter(graphBaseURL string) *MessengerAdapter {
	return &MessengerAdapter{
		client:  resty.New().SetTimeout(10 * time.Second),
		baseURL: strings.TrimRight(graphBaseURL, "/"),
	}
}

func (a *MessengerAdapter) Type() string {
	return models.ProviderMessenger
}

type pageEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				Text        string `json:"text"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func parsePageEnvelope(raw []byte, wantObject, provider string) (*NormalizedMessage, bool) {
	var envelope pageEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	if envelope.Object != wantObject {
		return nil, false
	}

	for _, entry := range envelope.Entry {
		for _, event := range entry.Messaging {
			if event.Sender.ID == "" {
				continue
			}

			normalized := &NormalizedMessage{
				Provider:          provider,
				ChannelExternalID: entry.ID,
				Sender:            event.Sender.ID,
				Text:              event.Message.Text,
			}
			for _, att := range event.Message.Attachments {
				if att.Type == "audio" {
					normalized.MediaURL = att.Payload.URL
					break
				}
			}
			if normalized.Text == "" && normalized.MediaURL == "" {
				continue
			}
			return normalized, true
		}
	}
	return nil, false
}

func (a *MessengerAdapter) ParseIncoming(raw []byte) (*NormalizedMessage, bool) {
	return parsePageEnvelope(raw, "page", models.ProviderMessenger)
}

func (a *MessengerAdapter) SendReply(ctx context.Context, channel *models.Channel, recipient, text string) error {
	return sendPageMessage(ctx, a.client, a.baseURL, channel, recipient, a.FormatMessage(text))
}

func (a *MessengerAdapter) FormatMessage(text string) string {
	return truncate(text, messengerMaxLength)
}

func sendPageMessage(ctx context.Context, client *resty.Client, baseURL string, channel *models.Channel, recipient, text string) error {
	body := map[string]interface{}{
		"recipient": map[string]string{"id": recipient},
		"message":   map[string]string{"text": text},
	}

	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("access_token", channel.AccessToken).
		SetBody(body).
		Post(fmt.Sprintf("%s/me/messages", baseURL))
	if err != nil {
		return fmt.Errorf("page message send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("page message send failed: status %d", resp.StatusCode())
	}
	return nil
}
