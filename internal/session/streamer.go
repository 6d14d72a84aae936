package session

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/conversation"
	"github.com/voxloop/voice-gateway/internal/llm"
	"github.com/voxloop/voice-gateway/internal/observability"
)

// FallbackResponse is spoken and stored when the language model fails
// mid-turn, so the turn always completes and the session never hangs
const FallbackResponse = "Sorry, there was an error processing your request."

// responseStreamer drives one streaming completion call: it accumulates
// deltas into the full response text, emits partial updates to the client,
// and batches text into speakable chunks for the speech queue
type responseStreamer struct {
	client        llm.Client
	store         *conversation.Store
	emitter       Emitter
	metrics       *observability.Metrics
	logger        zerolog.Logger
	systemPrompt  string
	historyWindow int
	chunkChars    int
}

// buildMessages assembles the system prompt plus the bounded context window.
// The user turn that triggered this response is already in the store
func (r *responseStreamer) buildMessages() []llm.Message {
	window := r.store.Context(r.historyWindow)
	messages := make([]llm.Message, 0, len(window)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	for _, turn := range window {
		role := llm.RoleUser
		if turn.Speaker == conversation.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return messages
}

// run consumes the completion stream, feeding the queue as it goes. It
// returns the finalized response text and whether the fallback was used.
// Every path flushes the pending batch, emits the final partial update, and
// appends the assistant turn exactly once
func (r *responseStreamer) run(ctx context.Context, queue *SpeechQueue) (string, bool) {
	var full strings.Builder
	var pending strings.Builder
	seq := 0
	failed := false

	if r.metrics != nil {
		r.metrics.RecordLLMStart()
	}

	deltas, err := r.client.StreamChat(ctx, r.buildMessages())
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to open completion stream")
		failed = true
	} else {
		for delta := range deltas {
			if delta.Err != nil {
				r.logger.Error().Err(delta.Err).Msg("Completion stream failed mid-flight")
				failed = true
				break
			}
			if delta.Done {
				break
			}
			if delta.Content == "" {
				continue
			}

			full.WriteString(delta.Content)
			pending.WriteString(delta.Content)

			// Partial update with the cumulative text so far
			r.emitter.AIResponse(full.String(), false)

			if pending.Len() >= r.chunkChars {
				queue.Enqueue(SpeechChunk{Seq: seq, Text: pending.String()})
				seq++
				pending.Reset()
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordLLMEnd(!failed)
	}

	text := strings.TrimSpace(full.String())
	if failed {
		// Substitute the apology and run it through the same finalization
		// path so the client still hears a response
		text = FallbackResponse
		pending.Reset()
		pending.WriteString(text)
		if r.metrics != nil {
			r.metrics.RecordError("llm_stream_error", "llm")
		}
	}

	if pending.Len() > 0 {
		queue.Enqueue(SpeechChunk{Seq: seq, Text: pending.String()})
		seq++
	}

	r.emitter.AIResponse(text, true)
	r.store.Append(conversation.SpeakerAssistant, text)

	r.logger.Info().Int("chars", len(text)).Int("chunks", seq).Bool("fallback", failed).Msg("Response finalized")
	return text, failed
}
