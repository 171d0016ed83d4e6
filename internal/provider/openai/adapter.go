// Package openai provides an adapter for OpenAI-compatible chat completion
// backends using the official SDK. It implements the domain.Provider interface
// and converts between domain types and SDK types; upstream documents and
// chunks are handed back verbatim.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/observability"
)

const (
	providerName = "openai"

	// progressEvery controls how often stream progress is logged.
	progressEvery = 10
)

// Provider implements the domain.Provider interface for OpenAI-compatible APIs.
type Provider struct {
	client openai.Client
	name   string
}

// NewProvider creates a new provider. The client is built once and shared
// by every request.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("backend API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	return &Provider{
		client: openai.NewClient(opts...),
		name:   providerName,
	}, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *domain.BackendRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling chat completions API", observability.String("upstream_model", req.Model))

	resp, err := p.client.Chat.Completions.New(ctx, p.toSDKParams(req))
	if err != nil {
		logger.Error("chat completions API call failed", observability.Error(err))
		return nil, translateError(err)
	}

	logger.Debug("chat completions API call succeeded",
		observability.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
		observability.Int("completion_tokens", int(resp.Usage.CompletionTokens)),
	)

	return toDomainResponse(resp), nil
}

// Stream sends a streaming completion request and returns a stream of chunks.
// The first upstream event is read before returning so that connection and
// HTTP failures are reported as an error instead of a broken stream.
func (p *Provider) Stream(ctx context.Context, req *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling chat completions streaming API", observability.String("upstream_model", req.Model))

	stream := p.client.Chat.Completions.NewStreaming(ctx, p.toSDKParams(req))

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			logger.Error("chat completions stream failed to open", observability.Error(err))
			return nil, translateError(err)
		}

		empty := make(chan domain.StreamChunk)
		close(empty)
		return empty, nil
	}

	first := stream.Current()
	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				logger.Debug("failed to close upstream stream", observability.Error(closeErr))
			}
		}()

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		count := 1
		if !send(domain.StreamChunk{Data: rawChunk(first)}) {
			return
		}

		for stream.Next() {
			count++
			if !send(domain.StreamChunk{Data: rawChunk(stream.Current())}) {
				logger.Info("upstream stream abandoned", observability.Int("chunk_count", count))
				return
			}
			if count%progressEvery == 0 {
				logger.Debug("upstream stream progress", observability.Int("chunk_count", count))
			}
		}

		if err := stream.Err(); err != nil {
			logger.Error("upstream stream error", observability.Error(err), observability.Int("chunk_count", count))
			send(domain.StreamChunk{Err: translateError(err)})
		}
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// toSDKParams converts a backend request to SDK ChatCompletionNewParams.
func (p *Provider) toSDKParams(req *domain.BackendRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleAssistant:
			messages[i] = openai.AssistantMessage(msg.Content)
		case domain.RoleSystem:
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	//nolint:exhaustruct // OpenAI SDK struct has many optional fields
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}

// toDomainResponse converts an SDK response to a domain response.
func toDomainResponse(resp *openai.ChatCompletion) *domain.CompletionResponse {
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	raw := json.RawMessage(resp.RawJSON())
	if len(raw) == 0 {
		raw, _ = json.Marshal(resp)
	}

	return &domain.CompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Raw: raw,
	}
}

func rawChunk(chunk openai.ChatCompletionChunk) json.RawMessage {
	if raw := chunk.RawJSON(); raw != "" {
		return json.RawMessage(raw)
	}
	data, _ := json.Marshal(chunk)
	return data
}

// translateError tags SDK failures. Structured API errors keep their status
// and code; everything else becomes an unknown failure.
func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = http.StatusText(apiErr.StatusCode)
		}
		return domain.NewUpstreamError("", apiErr.StatusCode, apiErr.Code,
			fmt.Sprintf("API Error: %s", message), err)
	}
	return domain.NewUnknownError("", err)
}
