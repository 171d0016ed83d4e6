package domain

import (
	"context"
	"time"
)

// Provider represents an OpenAI-compatible completion backend.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *BackendRequest) (*CompletionResponse, error)

	// Stream sends a completion request and returns a stream of chunks.
	// The channel is closed when the upstream ends, fails, or ctx is cancelled.
	Stream(ctx context.Context, req *BackendRequest) (<-chan StreamChunk, error)

	// Name returns the provider identifier.
	Name() string
}

// ModelResolver validates a caller-supplied model against the allow-list.
type ModelResolver interface {
	// Resolve returns the model to use; nil selects the default.
	Resolve(requested *string) (string, error)
}

// ExpansionCache stores expanded prompts keyed by the original content.
type ExpansionCache interface {
	// Get returns the cached expansion and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores an expansion for ttl.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	// ObserveUpstream records one upstream call for a pipeline stage.
	ObserveUpstream(stage Stage, model string, outcome string, elapsed time.Duration)

	// RecordExpansionFallback records a fail-open expansion.
	RecordExpansionFallback(model string)

	// RecordExpansionCache records a cache lookup result.
	RecordExpansionCache(hit bool)
}

// Stage names a pipeline stage.
type Stage string

const (
	StageValidate Stage = "validate"
	StageResolve  Stage = "resolve"
	StageExpand   Stage = "expand"
	StageForward  Stage = "forward"
	StageRelay    Stage = "relay"
)
