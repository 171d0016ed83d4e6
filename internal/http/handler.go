package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/davidbz/promptlift/internal/config"
	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/observability"
	"github.com/davidbz/promptlift/internal/relay"
)

const (
	modeStream    = "stream"
	modeNonStream = "non_stream"

	// unsupportedModelLabel stands in for any model outside the allow-list.
	unsupportedModelLabel = "unsupported"
)

// Gateway is the completion pipeline the handler drives.
type Gateway interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
	Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error)
}

// RequestRecorder records per-request metrics.
type RequestRecorder interface {
	RecordRequest(mode, model string, status int, elapsed time.Duration)
	RecordStream(frames int, abortReason string)
}

// Handler handles HTTP requests.
type Handler struct {
	gateway      Gateway
	models       domain.ModelResolver
	recorder     RequestRecorder
	maxBodyBytes int64
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	gateway *domain.GatewayService,
	models domain.ModelResolver,
	recorder RequestRecorder,
	cfg *config.ServerConfig,
) *Handler {
	return newHandler(gateway, models, recorder, cfg)
}

func newHandler(
	gateway Gateway,
	models domain.ModelResolver,
	recorder RequestRecorder,
	cfg *config.ServerConfig,
) *Handler {
	h := &Handler{
		gateway:  gateway,
		models:   models,
		recorder: recorder,
	}
	if cfg != nil {
		h.maxBodyBytes = cfg.MaxBodyBytes
	}
	return h
}

// HandleChatCompletion processes chat completion requests.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if r.Method != http.MethodPost {
		writeNotFound(w, r)
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		status := writeError(w, r, err)
		h.recordRequest(modeNonStream, "", status, start)
		return
	}

	req, err := domain.ParseCompletionRequest(body)
	if err != nil {
		status := writeError(w, r, err)
		h.recordRequest(modeNonStream, "", status, start)
		return
	}

	if req.Model != nil {
		ctx = observability.WithModel(ctx, *req.Model)
	}
	label := h.modelLabel(req.Model)

	logger := observability.FromContext(ctx)
	logger.Info("chat completion request received",
		observability.Int("message_count", len(req.Messages)),
		observability.Bool("stream", req.Stream),
	)

	if req.Stream {
		h.handleStream(ctx, w, r.WithContext(ctx), req, label, start)
		return
	}

	response, err := h.gateway.Complete(ctx, req)
	if err != nil {
		status := writeError(w, r.WithContext(ctx), err)
		h.recordRequest(modeNonStream, label, status, start)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(response.Raw); err != nil {
		logger.Warn("failed to write response", observability.Error(err))
	}

	logger.Info("request completed",
		observability.String("model", response.Model),
		observability.Elapsed(start),
	)
	h.recordRequest(modeNonStream, label, http.StatusOK, start)
}

func (h *Handler) handleStream(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	req *domain.CompletionRequest,
	label string,
	start time.Time,
) {
	// Every exit path releases the upstream stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := observability.FromContext(ctx)
	logger.Info("starting stream response")

	chunks, err := h.gateway.Stream(ctx, req)
	if err != nil {
		status := writeError(w, r, err)
		h.recordRequest(modeStream, label, status, start)
		return
	}

	res, err := relay.Relay(observability.WithStage(ctx, string(domain.StageRelay)), w, chunks)
	switch {
	case err == nil:
		h.recordStream(res.Frames, "")
		h.recordRequest(modeStream, label, http.StatusOK, start)

	case !res.Started:
		h.recordStream(0, "before_start")
		status := writeError(w, r, err)
		h.recordRequest(modeStream, label, status, start)

	default:
		reason := "upstream_error"
		if errors.Is(err, context.Canceled) {
			reason = "client_gone"
		}
		logger.Warn("aborting stream",
			observability.Error(err),
			observability.Int("chunk_count", res.Frames),
			observability.String("reason", reason),
		)
		h.recordStream(res.Frames, reason)
		h.recordRequest(modeStream, label, http.StatusOK, start)

		cancel()
		panic(http.ErrAbortHandler)
	}
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewValidationError("Request body too large")
		}
		return nil, domain.NewValidationError("Invalid JSON body")
	}

	return body, nil
}

// modelLabel maps the requested model onto the bounded set used for metrics.
func (h *Handler) modelLabel(requested *string) string {
	if h.models == nil {
		return ""
	}
	model, err := h.models.Resolve(requested)
	if err != nil {
		return unsupportedModelLabel
	}
	return model
}

func (h *Handler) recordRequest(mode, model string, status int, start time.Time) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordRequest(mode, model, status, time.Since(start))
}

func (h *Handler) recordStream(frames int, abortReason string) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordStream(frames, abortReason)
}
