package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/davidbz/promptlift/internal/observability"
)

const (
	// ExpansionModel is the auxiliary model that rewrites the last message.
	ExpansionModel = "gemini-2.0-flash-lite"

	expansionMaxTokens   = 500
	expansionTemperature = 0.7

	// expansionTemplate must not change by a single byte, typos and indentation included.
	expansionTemplate = "\n      Create a prompt which can act as a prompt templete where I put the original prompt " +
		"and it can modify it according to my intentions so that the final modified prompt is more detailed." +
		"You can expand certain terms or keywords.\n" +
		"      ----------\n" +
		"      PROMPT: %s.\n" +
		"      MODIFIED PROMPT: "
)

// ExpansionPolicy decides what happens when the expansion call fails.
type ExpansionPolicy string

const (
	// FailClosed aborts the request.
	FailClosed ExpansionPolicy = "fail_closed"
	// FailOpen continues with the original content.
	FailOpen ExpansionPolicy = "fail_open"
)

// ExpanderConfig contains prompt expansion settings.
type ExpanderConfig struct {
	Policy   ExpansionPolicy `env:"EXPANSION_FAILURE_POLICY" envDefault:"fail_closed"`
	CacheTTL time.Duration   `env:"EXPANSION_CACHE_TTL"      envDefault:"1h"`
}

// Validate checks the configured policy.
func (c ExpanderConfig) Validate() error {
	switch c.Policy {
	case FailClosed, FailOpen:
		return nil
	default:
		return fmt.Errorf("unknown expansion failure policy %q", c.Policy)
	}
}

// PromptExpander rewrites a terse instruction into a detailed prompt using
// the auxiliary model.
type PromptExpander struct {
	provider Provider
	policy   ExpansionPolicy
	cache    ExpansionCache
	cacheTTL time.Duration
	recorder Recorder
}

// NewPromptExpander creates a prompt expander (DI constructor).
// cache and recorder may be nil.
func NewPromptExpander(
	provider Provider,
	cfg *ExpanderConfig,
	cache ExpansionCache,
	recorder Recorder,
) *PromptExpander {
	policy := FailClosed
	ttl := time.Hour
	if cfg != nil {
		if cfg.Policy != "" {
			policy = cfg.Policy
		}
		ttl = cfg.CacheTTL
	}

	return &PromptExpander{
		provider: provider,
		policy:   policy,
		cache:    cache,
		cacheTTL: ttl,
		recorder: recorder,
	}
}

// BuildExpansionPrompt renders the fixed meta-prompt for content.
func BuildExpansionPrompt(content string) string {
	return fmt.Sprintf(expansionTemplate, content)
}

// Expand returns the elaborated version of content.
func (e *PromptExpander) Expand(ctx context.Context, content string) (string, error) {
	logger := observability.FromContext(observability.WithStage(ctx, string(StageExpand)))

	key := expansionCacheKey(content)
	if cached, ok := e.lookup(ctx, key); ok {
		logger.Debug("expansion served from cache")
		return cached, nil
	}

	start := time.Now()
	resp, err := e.provider.Complete(ctx, &BackendRequest{
		Model: ExpansionModel,
		Messages: []Message{
			{Role: RoleUser, Content: BuildExpansionPrompt(content)},
		},
		MaxTokens:   expansionMaxTokens,
		Temperature: expansionTemperature,
	})
	e.observe(ExpansionModel, err, time.Since(start))

	if err != nil {
		if e.policy == FailOpen && !errors.Is(err, context.Canceled) {
			logger.Warn("prompt expansion failed, continuing with original content",
				observability.Error(err))
			if e.recorder != nil {
				e.recorder.RecordExpansionFallback(ExpansionModel)
			}
			return content, nil
		}
		logger.Error("prompt expansion failed", observability.Error(err))
		return "", tagStage(err, StageExpand)
	}

	logger.Info("prompt expanded",
		observability.Int("original_length", len(content)),
		observability.Int("expanded_length", len(resp.Content)))

	e.store(ctx, key, resp.Content)

	return resp.Content, nil
}

func (e *PromptExpander) lookup(ctx context.Context, key string) (string, bool) {
	if e.cache == nil {
		return "", false
	}

	value, found, err := e.cache.Get(ctx, key)
	if err != nil {
		observability.FromContext(ctx).Warn("expansion cache get failed, continuing without cache",
			observability.Error(err))
		return "", false
	}

	if e.recorder != nil {
		e.recorder.RecordExpansionCache(found)
	}

	return value, found
}

func (e *PromptExpander) store(ctx context.Context, key, value string) {
	if e.cache == nil || value == "" {
		return
	}

	if err := e.cache.Set(ctx, key, value, e.cacheTTL); err != nil {
		observability.FromContext(ctx).Warn("failed to store expansion in cache",
			observability.Error(err))
	}
}

func (e *PromptExpander) observe(model string, err error, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}
	e.recorder.ObserveUpstream(StageExpand, model, outcomeOf(err), elapsed)
}

func expansionCacheKey(content string) string {
	hash := sha256.Sum256([]byte(ExpansionModel + "\x00" + content))
	return "expansion:" + hex.EncodeToString(hash[:])
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// tagStage keeps tagged errors as they are and records the stage on them;
// untagged errors become unknown failures of that stage.
func tagStage(err error, stage Stage) error {
	if gwErr, ok := AsError(err); ok {
		tagged := *gwErr
		tagged.Stage = stage
		return &tagged
	}
	return NewUnknownError(stage, err)
}
