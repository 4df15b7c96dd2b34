package channels

import (
	"strings"
	"testing"

	"salesbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFallsBackToGeneric(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewWhatsAppAdapter("https://graph.facebook.com/v19.0"))

	assert.Equal(t, models.ProviderWhatsApp, registry.Get("whatsapp").Type())
	assert.Equal(t, models.ProviderWhatsApp, registry.Get(" WhatsApp ").Type())
	assert.Equal(t, models.ProviderWidget, registry.Get("telegram").Type())
	assert.Equal(t, models.ProviderWidget, registry.Get("").Type())
}

func TestWhatsAppParseIncoming(t *testing.T) {
	adapter := NewWhatsAppAdapter("https://graph.facebook.com/v19.0")

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "1055501"},
			"contacts": [{"profile": {"name": "Maria"}, "wa_id": "56912345678"}],
			"messages": [{"from": "56912345678", "type": "text", "text": {"body": "hola"}}]
		}}]}]
	}`

	msg, ok := adapter.ParseIncoming([]byte(payload))
	require.True(t, ok)
	assert.Equal(t, "56912345678", msg.Sender)
	assert.Equal(t, "Maria", msg.SenderName)
	assert.Equal(t, "hola", msg.Text)
	assert.Equal(t, "1055501", msg.ChannelExternalID)
}

func TestWhatsAppParseVoiceNote(t *testing.T) {
	adapter := NewWhatsAppAdapter("https://graph.facebook.com/v19.0")

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "1055501"},
			"messages": [{"from": "56912345678", "type": "audio", "audio": {"id": "media-777"}}]
		}}]}]
	}`

	msg, ok := adapter.ParseIncoming([]byte(payload))
	require.True(t, ok)
	assert.Empty(t, msg.Text)
	assert.Equal(t, "media-777", msg.MediaID)
}

func TestParseIncomingMalformedPayloads(t *testing.T) {
	adapters := []Adapter{
		NewWhatsAppAdapter("https://graph.facebook.com/v19.0"),
		NewMessengerAdapter("https://graph.facebook.com/v19.0"),
		NewInstagramAdapter("https://graph.facebook.com/v19.0"),
		NewTikTokAdapter(),
		NewGenericAdapter(),
	}

	payloads := [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte("{}"),
		[]byte(`{"object": "unexpected_thing"}`),
		[]byte(`{"object": "whatsapp_business_account", "entry": []}`),
		[]byte(`{"object": "page", "entry": [{"messaging": [{"sender": {"id": ""}}]}]}`),
	}

	for _, adapter := range adapters {
		for _, payload := range payloads {
			msg, ok := adapter.ParseIncoming(payload)
			assert.False(t, ok, "adapter %s accepted %q", adapter.Type(), payload)
			assert.Nil(t, msg)
		}
	}
}

func TestMessengerParseIncoming(t *testing.T) {
	adapter := NewMessengerAdapter("https://graph.facebook.com/v19.0")

	payload := `{
		"object": "page",
		"entry": [{"id": "page-9", "messaging": [{
			"sender": {"id": "user-4"},
			"message": {"text": "do you ship to Valparaiso?"}
		}]}]
	}`

	msg, ok := adapter.ParseIncoming([]byte(payload))
	require.True(t, ok)
	assert.Equal(t, "user-4", msg.Sender)
	assert.Equal(t, "page-9", msg.ChannelExternalID)
	assert.Equal(t, models.ProviderMessenger, msg.Provider)
}

func TestInstagramRejectsPageObject(t *testing.T) {
	adapter := NewInstagramAdapter("https://graph.facebook.com/v19.0")

	payload := `{"object": "page", "entry": [{"id": "p", "messaging": [{"sender": {"id": "u"}, "message": {"text": "hi"}}]}]}`
	_, ok := adapter.ParseIncoming([]byte(payload))
	assert.False(t, ok)
}

func TestFormatMessageTruncation(t *testing.T) {
	long := strings.Repeat("a", 5000)

	cases := []struct {
		adapter Adapter
		limit   int
	}{
		{NewWhatsAppAdapter(""), whatsappMaxLength},
		{NewMessengerAdapter(""), messengerMaxLength},
		{NewInstagramAdapter(""), instagramMaxLength},
		{NewTikTokAdapter(), tiktokMaxLength},
	}

	for _, tc := range cases {
		formatted := tc.adapter.FormatMessage(long)
		runes := []rune(formatted)
		assert.Len(t, runes, tc.limit, "adapter %s", tc.adapter.Type())
		assert.Equal(t, '…', runes[len(runes)-1])
	}

	short := "hola"
	for _, tc := range cases {
		assert.Equal(t, short, tc.adapter.FormatMessage(short))
	}
}
