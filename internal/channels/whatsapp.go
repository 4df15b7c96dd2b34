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

const whatsappMaxLength = 4096

// WhatsAppAdapter speaks the Meta Cloud API envelope for WhatsApp Business.
type WhatsAppAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewWhatsAppAdapter(graphBaseURL string) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		client:  resty.New().SetTimeout(10 * time.Second),
		baseURL: strings.TrimRight(graphBaseURL, "/"),
	}
}

func (a *WhatsAppAdapter) Type() string {
	return models.ProviderWhatsApp
}

type whatsappEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID string `json:"id"`
					} `json:"audio"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *WhatsAppAdapter) ParseIncoming(raw []byte) (*NormalizedMessage, bool) {
	var envelope whatsappEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	if envelope.Object != "whatsapp_business_account" {
		return nil, false
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				continue
			}
			msg := value.Messages[0]
			if msg.From == "" {
				continue
			}

			normalized := &NormalizedMessage{
				Provider:          models.ProviderWhatsApp,
				ChannelExternalID: value.Metadata.PhoneNumberID,
				Sender:            msg.From,
			}
			if len(value.Contacts) > 0 {
				normalized.SenderName = value.Contacts[0].Profile.Name
			}

			switch msg.Type {
			case "text":
				normalized.Text = msg.Text.Body
			case "audio", "voice":
				normalized.MediaID = msg.Audio.ID
			default:
				// Unsupported media type, nothing to process.
				return nil, false
			}
			return normalized, true
		}
	}
	return nil, false
}

func (a *WhatsAppAdapter) SendReply(ctx context.Context, channel *models.Channel, recipient, text string) error {
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": a.FormatMessage(text)},
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(channel.AccessToken).
		SetBody(body).
		Post(fmt.Sprintf("%s/%s/messages", a.baseURL, channel.ExternalID))
	if err != nil {
		return fmt.Errorf("whatsapp send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("whatsapp send failed: status %d", resp.StatusCode())
	}
	return nil
}

func (a *WhatsAppAdapter) FormatMessage(text string) string {
	return truncate(text, whatsappMaxLength)
}
