// Package echo provides a local backend that echoes back the last message.
// It implements the domain.Provider interface without making external API
// calls and produces OpenAI-shaped documents and chunks, so the whole
// pipeline can run offline.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/observability"
)

const (
	providerName = "echo"
	chunkDelay   = 10 * time.Millisecond
)

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name  string
	delay time.Duration
	now   func() time.Time
}

// NewProvider creates a new echo provider.
// No configuration is required as this provider operates entirely in-memory.
func NewProvider() *Provider {
	return &Provider{
		name:  providerName,
		delay: chunkDelay,
		now:   time.Now,
	}
}

// WithChunkDelay returns a copy of the provider that waits d between chunks.
func (p *Provider) WithChunkDelay(d time.Duration) *Provider {
	clone := *p
	clone.delay = d
	return &clone
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type choice struct {
	Index        int      `json:"index"`
	Message      *message `json:"message,omitempty"`
	Delta        *message `json:"delta,omitempty"`
	FinishReason *string  `json:"finish_reason"`
}

type document struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []choice      `json:"choices"`
	Usage   *domain.Usage `json:"usage,omitempty"`
}

// Complete returns the echoed response.
func (p *Provider) Complete(ctx context.Context, req *domain.BackendRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("echoing request")

	content := truncateTokens(req.Messages[len(req.Messages)-1].Content, req.MaxTokens)
	promptTokens := countTokens(req.Messages)
	completionTokens := len(strings.Fields(content))

	usage := domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}

	stop := "stop"
	created := p.now()
	doc := document{
		ID:      fmt.Sprintf("echo-%d", created.UnixNano()),
		Object:  "chat.completion",
		Created: created.Unix(),
		Model:   req.Model,
		Choices: []choice{{
			Message:      &message{Role: string(domain.RoleAssistant), Content: content},
			FinishReason: &stop,
		}},
		Usage: &usage,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode echo response: %w", err)
	}

	return &domain.CompletionResponse{
		ID:      doc.ID,
		Model:   req.Model,
		Content: content,
		Usage:   usage,
		Raw:     raw,
	}, nil
}

// Stream returns the echoed content one word per chunk.
func (p *Provider) Stream(ctx context.Context, req *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("streaming echo request")

	content := truncateTokens(req.Messages[len(req.Messages)-1].Content, req.MaxTokens)
	words := strings.Fields(content)
	created := p.now()
	id := fmt.Sprintf("echo-%d", created.UnixNano())

	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)

		for i, word := range words {
			delta := word
			if i < len(words)-1 {
				delta += " "
			}

			if !p.send(ctx, chunks, p.chunk(id, created, req.Model, delta, nil)) {
				return
			}

			if p.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.delay):
				}
			}
		}

		stop := "stop"
		p.send(ctx, chunks, p.chunk(id, created, req.Model, "", &stop))
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) chunk(id string, created time.Time, model, delta string, finish *string) domain.StreamChunk {
	doc := document{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created.Unix(),
		Model:   model,
		Choices: []choice{{
			Delta:        &message{Role: string(domain.RoleAssistant), Content: delta},
			FinishReason: finish,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return domain.StreamChunk{Err: err}
	}
	return domain.StreamChunk{Data: data}
}

func (p *Provider) send(ctx context.Context, chunks chan<- domain.StreamChunk, chunk domain.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case chunks <- chunk:
		return true
	}
}

// truncateTokens keeps at most limit words; limit <= 0 keeps everything.
func truncateTokens(content string, limit int) string {
	words := strings.Fields(content)
	if limit <= 0 || len(words) <= limit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:limit], " ")
}

// countTokens performs simple word-based token counting.
func countTokens(messages []domain.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}
