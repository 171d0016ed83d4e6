package http_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/promptlift/internal/domain"
	apihttp "github.com/davidbz/promptlift/internal/http"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		envelope apihttp.Envelope
	}{
		{
			name:     "validation",
			err:      domain.NewValidationError("Messages array is required and must not be empty"),
			status:   http.StatusBadRequest,
			envelope: apihttp.Envelope{Error: "Messages array is required and must not be empty"},
		},
		{
			name:     "unsupported model",
			err:      domain.NewUnsupportedModelError("gpt-4", []string{"gemini-1.5-flash"}),
			status:   http.StatusBadRequest,
			envelope: apihttp.Envelope{Error: "Model 'gpt-4' is not supported. Allowed models: gemini-1.5-flash"},
		},
		{
			name:     "upstream with status and code",
			err:      domain.NewUpstreamError(domain.StageForward, 401, "invalid_api_key", "API Error: bad key", nil),
			status:   http.StatusUnauthorized,
			envelope: apihttp.Envelope{Error: "API Error: bad key", Code: "invalid_api_key"},
		},
		{
			name:     "upstream without status",
			err:      domain.NewUpstreamError(domain.StageForward, 0, "", "API Error: odd", nil),
			status:   http.StatusInternalServerError,
			envelope: apihttp.Envelope{Error: "API Error: odd"},
		},
		{
			name:     "wrapped unknown",
			err:      fmt.Errorf("relay: %w", domain.NewUnknownError(domain.StageRelay, errors.New("connection reset"))),
			status:   http.StatusInternalServerError,
			envelope: apihttp.Envelope{Error: "connection reset"},
		},
		{
			name:     "untagged",
			err:      errors.New("pq: password authentication failed for user admin"),
			status:   http.StatusInternalServerError,
			envelope: apihttp.Envelope{Error: "Internal server error"},
		},
		{
			name:     "tagged with unknown kind",
			err:      &domain.Error{Message: "leaky detail"},
			status:   http.StatusInternalServerError,
			envelope: apihttp.Envelope{Error: "Internal server error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, envelope := apihttp.Translate(tt.err)

			require.Equal(t, tt.status, status)
			require.Equal(t, tt.envelope, envelope)
		})
	}
}
