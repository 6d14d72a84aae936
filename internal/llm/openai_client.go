package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/resilience"
)

// OpenAIClient implements Client against an OpenAI-compatible chat
// completions API using server-sent events
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// chatRequest is the request payload for the chat completions endpoint
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatStreamChunk is one SSE data payload of a streaming completion
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a streaming chat client. The breaker may be nil to
// disable circuit breaking
func NewOpenAIClient(baseURL, apiKey, model string, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{}, // no client timeout; streams are long-lived, callers cancel via ctx
		breaker:    breaker,
		logger:     logger,
	}
}

// StreamChat opens a streaming completion call and forwards text deltas in
// generation order. The returned channel is closed when the stream ends
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []Message) (<-chan Delta, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	var resp *http.Response
	do := func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("chat completions API returned status %d", resp.StatusCode)
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Call(do)
	} else {
		err = do()
	}
	if err != nil {
		return nil, err
	}

	deltas := make(chan Delta, 16)
	go c.readStream(resp, deltas)
	return deltas, nil
}

// readStream consumes the SSE body and forwards deltas until the stream
// terminates
func (c *OpenAIClient) readStream(resp *http.Response, deltas chan<- Delta) {
	defer resp.Body.Close()
	defer close(deltas)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	start := time.Now()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			c.logger.Debug().Dur("elapsed", time.Since(start)).Msg("Completion stream finished")
			deltas <- Delta{Done: true}
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse stream chunk, skipping")
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			deltas <- Delta{Content: content}
		}
		if chunk.Choices[0].FinishReason != "" {
			deltas <- Delta{Done: true}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if c.breaker != nil {
			c.breaker.RecordResult(false)
		}
		deltas <- Delta{Err: fmt.Errorf("stream read failed: %w", err)}
		return
	}

	// Body ended without a terminator; treat as a truncated stream
	deltas <- Delta{Err: fmt.Errorf("stream ended unexpectedly")}
}

// HealthCheck verifies the API is reachable by listing models
func (c *OpenAIClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("models endpoint returned status %d", resp.StatusCode)
	}
	return true, nil
}
