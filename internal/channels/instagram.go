package channels

import (
	"context"
	"strings"
	"time"

	"salesbot/internal/models"

	"github.com/go-resty/resty/v2"
)

const instagramMaxLength = 1000

// InstagramAdapter handles Instagram DMs, which arrive on the same Meta
// webhook as Messenger but under a different object discriminator.
type InstagramAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewInstagramAdapter(graphBaseURL string) *InstagramAdapter {
	return &InstagramAdapter{
		client:  resty.New().SetTimeout(10 * time.Second),
		baseURL: strings.TrimRight(graphBaseURL, "/"),
	}
}

func (a *InstagramAdapter) Type() string {
	return models.ProviderInstagram
}

func (a *InstagramAdapter) ParseIncoming(raw []byte) (*NormalizedMessage, bool) {
	return parsePageEnvelope(raw, "instagram", models.ProviderInstagram)
}

func (a *InstagramAdapter) SendReply(ctx context.Context, channel *models.Channel, recipient, text string) error {
	return sendPageMessage(ctx, a.client, a.baseURL, channel, recipient, a.FormatMessage(text))
}

func (a *InstagramAdapter) FormatMessage(text string) string {
	return truncate(text, instagramMaxLength)
}
