package domain

import "encoding/json"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

const (
	// DefaultMaxTokens is used for the answer call when the caller omits max_tokens.
	DefaultMaxTokens = 150

	// DefaultTemperature is used for the answer call when the caller omits temperature.
	DefaultTemperature = 0.7
)

// CompletionRequest represents an inbound chat completion request.
// Fields other than these are accepted on the wire and dropped.
type CompletionRequest struct {
	Model       *string   `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// BackendRequest is the outbound request handed to a provider.
type BackendRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is a complete upstream result.
// Raw holds the upstream document exactly as received.
type CompletionResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
	Raw     json.RawMessage
}

// StreamChunk is one incremental upstream delta.
// Data is opaque to the gateway; Err is set when the upstream failed mid-stream.
type StreamChunk struct {
	Data json.RawMessage
	Err  error
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExpandConversation returns a copy of messages whose last element carries
// the expanded content. Earlier messages and the last role are untouched.
func ExpandConversation(messages []Message, expanded string) []Message {
	if len(messages) == 0 {
		return nil
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	out[len(out)-1].Content = expanded

	return out
}
