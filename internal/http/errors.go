package http

import (
	"encoding/json"
	"net/http"

	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/observability"
)

const internalServerError = "Internal server error"

// Envelope is the JSON error body returned to callers.
type Envelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Translate maps a pipeline failure to a status code and error body.
// Only tagged errors contribute their message; anything else is opaque.
func Translate(err error) (int, Envelope) {
	gwErr, ok := domain.AsError(err)
	if !ok {
		return http.StatusInternalServerError, Envelope{Error: internalServerError}
	}

	switch gwErr.Kind {
	case domain.KindValidation, domain.KindUnsupportedModel:
		return http.StatusBadRequest, Envelope{Error: gwErr.Message}

	case domain.KindUpstreamAPI:
		status := gwErr.Status
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		return status, Envelope{Error: gwErr.Message, Code: gwErr.Code}

	case domain.KindUnknown:
		return http.StatusInternalServerError, Envelope{Error: gwErr.Message}

	default:
		return http.StatusInternalServerError, Envelope{Error: internalServerError}
	}
}

// writeError translates err and writes it as a JSON response.
func writeError(w http.ResponseWriter, r *http.Request, err error) int {
	status, envelope := Translate(err)

	logger := observability.FromContext(r.Context())
	if gwErr, ok := domain.AsError(err); ok {
		logger = logger.With(
			observability.String("error_kind", gwErr.Kind.String()),
			observability.String("failed_stage", string(gwErr.Stage)),
		)
	} else {
		logger = logger.With(observability.String("error_kind", "opaque"))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", observability.Error(err), observability.Int("status", status))
	} else {
		logger.Warn("request rejected", observability.Error(err), observability.Int("status", status))
	}

	writeJSON(w, r, status, envelope)
	return status
}

func writeNotFound(w http.ResponseWriter, r *http.Request) int {
	writeJSON(w, r, http.StatusNotFound, map[string]string{"message": "Not Found"})
	return http.StatusNotFound
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(r.Context()).Warn("failed to encode response", observability.Error(err))
	}
}
