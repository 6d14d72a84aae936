package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/resilience"
)

// SpeechifyClient implements Synthesizer using the Speechify TTS API
type SpeechifyClient struct {
	baseURL    string
	apiKey     string
	voice      VoiceParams
	useStream  bool // /v1/audio/stream vs /v1/audio/speech
	httpClient *http.Client
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// speechifyRequest is the request payload for both Speechify audio endpoints
type speechifyRequest struct {
	Input            string  `json:"input"`
	VoiceID          string  `json:"voice_id"`
	OutputFormat     string  `json:"output_format,omitempty"`
	EmotionIntensity float64 `json:"emotion_intensity,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
	Pitch            float64 `json:"pitch,omitempty"`
}

// NewSpeechifyClient creates a Speechify TTS client. A nil retry config
// disables retries
func NewSpeechifyClient(baseURL, apiKey string, voice VoiceParams, useStream bool, retry *resilience.RetryConfig, logger zerolog.Logger) *SpeechifyClient {
	return &SpeechifyClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		voice:      voice,
		useStream:  useStream,
		httpClient: &http.Client{},
		retry:      retry,
		logger:     logger,
	}
}

// wrapSSML wraps plain text in SSML carrying the configured emotion
func (c *SpeechifyClient) wrapSSML(text string) string {
	if c.voice.Emotion == "" {
		return fmt.Sprintf("<speak>%s</speak>", text)
	}
	return fmt.Sprintf(`<speak><speechify:style emotion="%s">%s</speechify:style></speak>`, c.voice.Emotion, text)
}

// outputFormat returns the configured audio container, defaulting to wav so
// downstream consumers can decode the samples
func (c *SpeechifyClient) outputFormat() string {
	if c.voice.OutputFormat == "" {
		return "wav"
	}
	return c.voice.OutputFormat
}

// acceptHeader maps an output format to its media type
func acceptHeader(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	}
	return "*/*"
}

// endpoint returns the audio endpoint path for the configured mode
func (c *SpeechifyClient) endpoint() string {
	if c.useStream {
		return c.baseURL + "/v1/audio/stream"
	}
	return c.baseURL + "/v1/audio/speech"
}

// Synthesize converts text to audio bytes, retrying transient transport
// failures
func (c *SpeechifyClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechifyRequest{
		Input:            c.wrapSSML(text),
		VoiceID:          c.voice.VoiceID,
		OutputFormat:     c.outputFormat(),
		EmotionIntensity: c.voice.EmotionIntensity,
		Speed:            c.voice.Speed,
		Pitch:            c.voice.Pitch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var audio []byte
	call := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", acceptHeader(c.outputFormat()))

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("failed to make request: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("speechify API returned status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read audio response: %w", readErr)
		}
		if len(data) == 0 {
			return fmt.Errorf("speechify returned empty audio data")
		}

		audio = data
		return nil
	}

	if c.retry != nil {
		err = resilience.Retry(ctx, call, c.retry, resilience.IsRetryableNetworkError)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("bytes", len(audio)).Int("text_len", len(text)).Msg("Synthesized speech chunk")
	return audio, nil
}

// HealthCheck verifies the API credentials are usable. No audio is generated
// to avoid API costs
func (c *SpeechifyClient) HealthCheck(ctx context.Context) (bool, error) {
	if c.apiKey == "" {
		return false, fmt.Errorf("speechify API key not configured")
	}
	return true, nil
}
