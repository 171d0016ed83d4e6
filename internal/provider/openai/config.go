package openai

// Config contains backend client configuration.
// All fields map to OpenAI SDK options:
//   - APIKey: Maps to option.WithAPIKey()
//   - BaseURL: Maps to option.WithBaseURL()
//   - Timeout: Maps to option.WithRequestTimeout() (in seconds, 0 leaves the client default)
//
// Retries are always disabled: a failed call fails the request once.
type Config struct {
	APIKey  string `env:"BACKEND_API_KEY"`
	BaseURL string `env:"BACKEND_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	Timeout int    `env:"BACKEND_TIMEOUT"  envDefault:"0"`
}
