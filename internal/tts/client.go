// Package tts narrates segment text through ElevenLabs.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
	"github.com/spherical/lesson-digitizer/internal/retry"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID = "EXAVITQu4vr4xnSDxMaL"
	defaultModel   = "eleven_multilingual_v2"
)

// VoiceSettings are the ElevenLabs voice parameters
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Client calls the ElevenLabs text-to-speech endpoint
type Client struct {
	apiKey     string
	baseURL    string
	voiceID    string
	model      string
	settings   VoiceSettings
	httpClient *http.Client
	retry      retry.Config
	log        *observability.Logger
}

// ClientConfig configures a Client; zero values take the defaults
type ClientConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	Model   string
	Timeout time.Duration
	Retry   *retry.Config
}

func NewClient(cfg ClientConfig, log *observability.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		voiceID:    cfg.VoiceID,
		model:      cfg.Model,
		settings:   VoiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      rc,
		log:        log,
	}
}

// Speak returns MP3 audio for text
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, domain.ConfigError("ElevenLabs API key is not configured", nil)
	}

	body, err := json.Marshal(speechRequest{Text: text, ModelID: c.model, VoiceSettings: c.settings})
	if err != nil {
		return nil, domain.APIError("Failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, c.voiceID)
	resp, err := retry.Do(ctx, c.retry, c.log, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.APIError("Failed to read audio", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(data)), nil)
	}
	if len(data) == 0 {
		return nil, domain.APIError("Empty audio response", nil)
	}
	return data, nil
}
