package domain

import (
	"context"
	"errors"
	"time"

	"github.com/davidbz/promptlift/internal/observability"
)

// GatewayService runs the two-stage completion pipeline:
// validate, resolve the model, expand the last message, forward.
type GatewayService struct {
	provider Provider
	models   ModelResolver
	expander *PromptExpander
	recorder Recorder
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(
	provider Provider,
	models ModelResolver,
	expander *PromptExpander,
	recorder Recorder,
) *GatewayService {
	return &GatewayService{
		provider: provider,
		models:   models,
		expander: expander,
		recorder: recorder,
	}
}

// Complete handles a non-streaming completion request.
func (g *GatewayService) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	backendReq, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithStage(observability.WithModel(ctx, backendReq.Model), string(StageForward))
	logger := observability.FromContext(ctx)

	start := time.Now()
	response, err := g.provider.Complete(ctx, backendReq)
	g.observe(backendReq.Model, err, time.Since(start))
	if err != nil {
		logger.Error("completion failed", observability.Error(err))
		return nil, tagStage(err, StageForward)
	}

	logger.Info("non-streaming completion successful",
		observability.Int("prompt_tokens", response.Usage.PromptTokens),
		observability.Int("completion_tokens", response.Usage.CompletionTokens),
		observability.Int("response_length", len(response.Content)),
	)

	return response, nil
}

// Stream handles a streaming completion request. The returned channel is
// owned by the caller, who must cancel ctx to release the upstream early.
func (g *GatewayService) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	backendReq, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithStage(observability.WithModel(ctx, backendReq.Model), string(StageForward))

	start := time.Now()
	chunks, err := g.provider.Stream(ctx, backendReq)
	g.observe(backendReq.Model, err, time.Since(start))
	if err != nil {
		observability.FromContext(ctx).Error("failed to open upstream stream", observability.Error(err))
		return nil, tagStage(err, StageForward)
	}

	return chunks, nil
}

// prepare runs validation, model resolution and expansion, in that order.
func (g *GatewayService) prepare(ctx context.Context, req *CompletionRequest) (*BackendRequest, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	if g.models == nil {
		return nil, errors.New("model resolver is not configured")
	}

	model, err := g.models.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	last := req.Messages[len(req.Messages)-1]
	expanded, err := g.expander.Expand(observability.WithModel(ctx, model), last.Content)
	if err != nil {
		return nil, err
	}

	backendReq := &BackendRequest{
		Model:       model,
		Messages:    ExpandConversation(req.Messages, expanded),
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	if req.MaxTokens != nil {
		backendReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		backendReq.Temperature = *req.Temperature
	}

	return backendReq, nil
}

func (g *GatewayService) observe(model string, err error, elapsed time.Duration) {
	if g.recorder == nil {
		return
	}
	g.recorder.ObserveUpstream(StageForward, model, outcomeOf(err), elapsed)
}
