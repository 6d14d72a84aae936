package llm

import "context"

// Message is one role/content turn sent to the language model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles understood by chat completion APIs
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Delta is one increment of a streaming completion
type Delta struct {
	// Content is the new text fragment, empty on the terminating delta
	Content string

	// Done is true on the final delta of a successful stream
	Done bool

	// Err is set when the stream failed mid-flight; no further deltas follow
	Err error
}

// Client is the interface for a streaming language model client
type Client interface {
	// StreamChat opens a streaming completion for the given messages and
	// returns an ordered sequence of deltas. Setup failures are returned
	// directly; mid-stream failures arrive as a Delta with Err set. The
	// channel is closed when the stream ends either way
	StreamChat(ctx context.Context, messages []Message) (<-chan Delta, error)
}
