package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"salesbot/config"
	"salesbot/internal/models"

	"github.com/go-resty/resty/v2"
)

// Service converts voice-note media references into text before orchestration.
// Media ids are resolved through the messaging provider's media API with the
// channel's own credentials; the download is then posted to the transcription
// endpoint.
type Service struct {
	http         *resty.Client
	graphBaseURL string
}

func NewService(aiCfg config.AIConfig, channelsCfg config.ChannelsConfig) *Service {
	timeout := time.Duration(aiCfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	http := resty.New().
		SetBaseURL(aiCfg.BaseURL).
		SetAuthToken(aiCfg.APIKey).
		SetTimeout(timeout)

	return &Service{
		http:         http,
		graphBaseURL: strings.TrimRight(channelsCfg.GraphBaseURL, "/"),
	}
}

type mediaLookup struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// ResolveMediaURL turns a provider media id into a downloadable URL.
func (s *Service) ResolveMediaURL(ctx context.Context, channel *models.Channel, mediaID string) (string, error) {
	var lookup mediaLookup
	resp, err := resty.New().SetTimeout(10*time.Second).R().
		SetContext(ctx).
		SetAuthToken(channel.AccessToken).
		SetResult(&lookup).
		Get(fmt.Sprintf("%s/%s", s.graphBaseURL, mediaID))
	if err != nil {
		return "", fmt.Errorf("media lookup failed: %w", err)
	}
	if resp.IsError() || lookup.URL == "" {
		return "", fmt.Errorf("media lookup failed: status %d", resp.StatusCode())
	}
	return lookup.URL, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe downloads the audio and posts it to the transcription endpoint.
func (s *Service) Transcribe(ctx context.Context, channel *models.Channel, mediaURL string) (string, error) {
	download, err := resty.New().SetTimeout(30*time.Second).R().
		SetContext(ctx).
		SetAuthToken(channel.AccessToken).
		Get(mediaURL)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}
	if download.IsError() {
		return "", fmt.Errorf("media download failed: status %d", download.StatusCode())
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetFileReader("file", "voice-note.ogg", strings.NewReader(string(download.Body()))).
		SetFormData(map[string]string{"model": "whisper-1"}).
		Post("/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transcription request failed: status %d", resp.StatusCode())
	}

	var result transcriptionResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
