// Package registry holds the fixed allow-list of backend models.
// The list is built once at startup and is read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/davidbz/promptlift/internal/domain"
)

// DefaultModel is used when a request omits the model field.
const DefaultModel = "gemini-1.5-flash"

// BuiltinModels returns the built-in allow-list.
func BuiltinModels() []string {
	return []string{
		"gemini-1.5-flash",
		"gemini-2.0-flash-lite",
		"gemini-2.0-flash",
	}
}

// Config points to an optional deploy-time model list.
type Config struct {
	File string `env:"MODELS_FILE"`
}

// modelsFile is the YAML layout of MODELS_FILE.
type modelsFile struct {
	Default string   `yaml:"default"`
	Models  []string `yaml:"models"`
}

// Registry implements domain.ModelResolver over a fixed allow-list.
type Registry struct {
	allowed      []string
	set          map[string]struct{}
	defaultModel string
}

// NewRegistry creates a registry from an explicit list.
func NewRegistry(models []string, defaultModel string) (*Registry, error) {
	if len(models) == 0 {
		return nil, errors.New("model allow-list cannot be empty")
	}

	set := make(map[string]struct{}, len(models))
	allowed := make([]string, 0, len(models))
	for _, model := range models {
		if model == "" {
			return nil, errors.New("model name cannot be empty")
		}
		if _, exists := set[model]; exists {
			continue
		}
		set[model] = struct{}{}
		allowed = append(allowed, model)
	}

	if _, exists := set[defaultModel]; !exists {
		return nil, fmt.Errorf("default model %s is not in the allow-list", defaultModel)
	}

	return &Registry{
		allowed:      allowed,
		set:          set,
		defaultModel: defaultModel,
	}, nil
}

// New builds the registry from cfg, falling back to the built-in list (DI constructor).
func New(cfg *Config) (*Registry, error) {
	if cfg == nil || cfg.File == "" {
		return NewRegistry(BuiltinModels(), DefaultModel)
	}
	return LoadFile(cfg.File)
}

// LoadFile builds the registry from a YAML model list.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var doc modelsFile
	if unmarshalErr := yaml.Unmarshal(data, &doc); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, unmarshalErr)
	}

	if doc.Default == "" && len(doc.Models) > 0 {
		doc.Default = doc.Models[0]
	}

	return NewRegistry(doc.Models, doc.Default)
}

// Resolve returns the model to use for a request.
// nil selects the default; anything else must match the allow-list exactly.
func (r *Registry) Resolve(requested *string) (string, error) {
	if requested == nil {
		return r.defaultModel, nil
	}

	if _, ok := r.set[*requested]; !ok {
		return "", domain.NewUnsupportedModelError(*requested, r.Allowed())
	}

	return *requested, nil
}

// Allowed returns the allow-list in declaration order.
func (r *Registry) Allowed() []string {
	return slices.Clone(r.allowed)
}

// Default returns the default model.
func (r *Registry) Default() string {
	return r.defaultModel
}

// IsAllowed checks if the model is on the allow-list.
func (r *Registry) IsAllowed(model string) bool {
	_, ok := r.set[model]
	return ok
}
