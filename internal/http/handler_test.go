package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/promptlift/internal/config"
	"github.com/davidbz/promptlift/internal/domain"
	apihttp "github.com/davidbz/promptlift/internal/http"
	"github.com/davidbz/promptlift/internal/http/middleware"
	"github.com/davidbz/promptlift/internal/metrics"
	"github.com/davidbz/promptlift/internal/mocks"
	"github.com/davidbz/promptlift/internal/provider/echo"
	"github.com/davidbz/promptlift/internal/registry"
)

const completionsPath = "/api/chat/completions"

func newTestServer(t *testing.T, provider domain.Provider) *httptest.Server {
	t.Helper()

	reg, err := registry.NewRegistry(registry.BuiltinModels(), registry.DefaultModel)
	require.NoError(t, err)

	collector := metrics.NewCollector(&metrics.Config{Namespace: "promptlift"})
	expander := domain.NewPromptExpander(provider, &domain.ExpanderConfig{Policy: domain.FailClosed}, nil, collector)
	gateway := domain.NewGatewayService(provider, reg, expander, collector)

	serverCfg := &config.ServerConfig{Port: 8080, MaxBodyBytes: 1 << 20}
	handler := apihttp.NewHandler(gateway, reg, collector, serverCfg)
	server := apihttp.NewServer(serverCfg, handler, middleware.BuildMiddlewareChain(nil), collector,
		&metrics.Config{Enabled: true, Path: "/metrics"})

	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	return ts
}

func post(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(ts.URL+completionsPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) apihttp.Envelope {
	t.Helper()

	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var envelope apihttp.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func expectExpansion(provider *mocks.MockProvider, expanded string) {
	provider.EXPECT().
		Complete(mock.Anything, mock.MatchedBy(func(req *domain.BackendRequest) bool {
			return req.Model == domain.ExpansionModel
		})).
		Return(&domain.CompletionResponse{Content: expanded}, nil).
		Once()
}

func isAnswer(model string) any {
	return mock.MatchedBy(func(req *domain.BackendRequest) bool {
		return req.Model == model
	})
}

func chunkFeed(ctx context.Context, released chan<- struct{}, chunks ...domain.StreamChunk) <-chan domain.StreamChunk {
	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				if released != nil {
					close(released)
				}
				return
			}
		}
		if released == nil {
			return
		}
		<-ctx.Done()
		close(released)
	}()
	return out
}

func TestHandleChatCompletion_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "messages absent", body: `{"model":"gemini-1.5-flash"}`, message: "Messages array is required and must not be empty"},
		{name: "messages empty", body: `{"messages":[]}`, message: "Messages array is required and must not be empty"},
		{name: "invalid json", body: `{"messages":[`, message: "Invalid JSON body"},
		{
			name:    "unsupported model",
			body:    `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`,
			message: "Model 'gpt-4' is not supported. Allowed models: gemini-1.5-flash, gemini-2.0-flash-lite, gemini-2.0-flash",
		},
	}

	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			provider := mocks.NewMockProvider(t)
			ts := newTestServer(t, provider)

			resp := post(t, ts, tt.body)

			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, tt.message, decodeEnvelope(t, resp).Error)
			provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleChatCompletion_NonStream(t *testing.T) {
	t.Run("should return the upstream document unchanged", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		raw := `{"id":"chatcmpl-1","object":"chat.completion","model":"gemini-1.5-flash",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"TCP is..."},"finish_reason":"stop"}]}`

		var forwarded *domain.BackendRequest
		expectExpansion(provider, "Explain TCP thoroughly")
		provider.EXPECT().Complete(mock.Anything, isAnswer(registry.DefaultModel)).
			Run(func(_ context.Context, req *domain.BackendRequest) { forwarded = req }).
			Return(&domain.CompletionResponse{ID: "chatcmpl-1", Model: "gemini-1.5-flash", Raw: json.RawMessage(raw)}, nil).
			Once()

		resp := post(t, ts, `{"messages":[
			{"role":"system","content":"be brief"},
			{"role":"assistant","content":"hello"},
			{"role":"user","content":"explain tcp"}
		]}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, raw, string(body))

		require.Equal(t, registry.DefaultModel, forwarded.Model)
		require.Equal(t, []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleUser, Content: "Explain TCP thoroughly"},
		}, forwarded.Messages)
	})

	t.Run("should answer on the v1 path", func(t *testing.T) {
		ts := newTestServer(t, echo.NewProvider())

		resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
			strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should translate upstream API errors", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		expectExpansion(provider, "expanded")
		provider.EXPECT().Complete(mock.Anything, isAnswer("gemini-2.0-flash")).
			Return(nil, domain.NewUpstreamError(domain.StageForward, http.StatusTooManyRequests,
				"rate_limit_exceeded", "API Error: quota exhausted", nil)).
			Once()

		resp := post(t, ts, `{"model":"gemini-2.0-flash","messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		require.Equal(t, apihttp.Envelope{Error: "API Error: quota exhausted", Code: "rate_limit_exceeded"},
			decodeEnvelope(t, resp))
	})

	t.Run("should fail without forwarding when expansion fails", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		provider.EXPECT().Complete(mock.Anything, mock.Anything).
			Return(nil, errors.New("expansion backend unreachable")).Once()

		resp := post(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Equal(t, "expansion backend unreachable", decodeEnvelope(t, resp).Error)
	})

	t.Run("should hide panics behind a generic message", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		provider.EXPECT().Complete(mock.Anything, mock.Anything).
			Run(func(context.Context, *domain.BackendRequest) { panic("nil map write in adapter") }).
			Maybe()

		resp := post(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Equal(t, "Internal server error", decodeEnvelope(t, resp).Error)
	})
}

func TestHandleChatCompletion_Stream(t *testing.T) {
	t.Run("should relay chunks in order and terminate", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		expectExpansion(provider, "expanded")
		provider.EXPECT().Stream(mock.Anything, isAnswer(registry.DefaultModel)).
			RunAndReturn(func(ctx context.Context, _ *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
				return chunkFeed(ctx, nil,
					domain.StreamChunk{Data: json.RawMessage(`{"id":"c1"}`)},
					domain.StreamChunk{Data: json.RawMessage(`{"id":"c2"}`)},
					domain.StreamChunk{Data: json.RawMessage(`{"id":"c3"}`)},
				), nil
			}).Once()

		resp := post(t, ts, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t,
			"data: {\"id\":\"c1\"}\n\ndata: {\"id\":\"c2\"}\n\ndata: {\"id\":\"c3\"}\n\ndata: [DONE]\n\n",
			string(body))
	})

	t.Run("should abort without sentinel on mid-stream failure and release the upstream", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		released := make(chan struct{})
		expectExpansion(provider, "expanded")
		provider.EXPECT().Stream(mock.Anything, mock.Anything).
			RunAndReturn(func(ctx context.Context, _ *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
				return chunkFeed(ctx, released,
					domain.StreamChunk{Data: json.RawMessage(`{"id":"c1"}`)},
					domain.StreamChunk{Err: domain.NewUnknownError(domain.StageRelay, errors.New("upstream reset"))},
				), nil
			}).Once()

		resp := post(t, ts, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.Error(t, err)
		require.Contains(t, string(body), `data: {"id":"c1"}`)
		require.NotContains(t, string(body), "[DONE]")

		select {
		case <-released:
		case <-time.After(2 * time.Second):
			t.Fatal("upstream stream was not released")
		}
	})

	t.Run("should answer with JSON when the stream fails before the first frame", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		expectExpansion(provider, "expanded")
		provider.EXPECT().Stream(mock.Anything, mock.Anything).
			RunAndReturn(func(ctx context.Context, _ *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
				return chunkFeed(ctx, nil,
					domain.StreamChunk{Err: domain.NewUpstreamError(domain.StageRelay, http.StatusBadGateway, "", "API Error: bad gateway", nil)},
				), nil
			}).Once()

		resp := post(t, ts, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, "API Error: bad gateway", decodeEnvelope(t, resp).Error)
	})

	t.Run("should answer with JSON when expansion fails", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		provider.EXPECT().Complete(mock.Anything, mock.Anything).
			Return(nil, domain.NewUpstreamError(domain.StageExpand, http.StatusServiceUnavailable, "", "API Error: overloaded", nil)).
			Once()

		resp := post(t, ts, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, "API Error: overloaded", decodeEnvelope(t, resp).Error)
		provider.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
	})

	t.Run("should release the upstream when the caller disconnects", func(t *testing.T) {
		provider := mocks.NewMockProvider(t)
		ts := newTestServer(t, provider)

		released := make(chan struct{})
		expectExpansion(provider, "expanded")
		provider.EXPECT().Stream(mock.Anything, mock.Anything).
			RunAndReturn(func(ctx context.Context, _ *domain.BackendRequest) (<-chan domain.StreamChunk, error) {
				out := make(chan domain.StreamChunk)
				go func() {
					defer close(out)
					defer close(released)
					for {
						select {
						case out <- domain.StreamChunk{Data: json.RawMessage(`{"id":"tick"}`)}:
							time.Sleep(5 * time.Millisecond)
						case <-ctx.Done():
							return
						}
					}
				}()
				return out, nil
			}).Once()

		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+completionsPath,
			strings.NewReader(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		line, err := bufio.NewReader(resp.Body).ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "data: {\"id\":\"tick\"}\n", line)

		cancel()

		select {
		case <-released:
		case <-time.After(2 * time.Second):
			t.Fatal("upstream stream was not released")
		}
	})

	t.Run("should stream end to end through the echo backend", func(t *testing.T) {
		ts := newTestServer(t, echo.NewProvider())

		resp := post(t, ts, `{"stream":true,"max_tokens":3,"messages":[{"role":"user","content":"hi"}]}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(body), "data: {"))
		require.True(t, strings.HasSuffix(string(body), "data: [DONE]\n\n"))
	})
}

func TestHandleChatCompletion_NotFound(t *testing.T) {
	ts := newTestServer(t, mocks.NewMockProvider(t))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, ts.URL+completionsPath, nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		require.Equal(t, http.StatusNotFound, resp.StatusCode, method)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"message":"Not Found"}`, string(body))
		require.NoError(t, resp.Body.Close())
	}
}

func TestHandleChatCompletion_BodyTooLarge(t *testing.T) {
	provider := mocks.NewMockProvider(t)
	reg, err := registry.NewRegistry(registry.BuiltinModels(), registry.DefaultModel)
	require.NoError(t, err)
	gateway := domain.NewGatewayService(provider, reg, domain.NewPromptExpander(provider, nil, nil, nil), nil)
	handler := apihttp.NewHandler(gateway, reg, nil, &config.ServerConfig{MaxBodyBytes: 16})

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, httptest.NewRequest(http.MethodPost, completionsPath,
		strings.NewReader(`{"messages":[{"role":"user","content":"this is far too long"}]}`)))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"Request body too large"}`, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, mocks.NewMockProvider(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, echo.NewProvider())

	resp := post(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()

	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "promptlift_requests_total")
	require.Contains(t, string(body), `stage="expand"`)
}

func TestMetricsEndpoint_BoundsModelLabel(t *testing.T) {
	ts := newTestServer(t, echo.NewProvider())

	for i := 0; i < 20; i++ {
		resp := post(t, ts, fmt.Sprintf(`{"model":"junk-%d","messages":[{"role":"user","content":"hi"}]}`, i))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp := post(t, ts, `{"model":"gemini-2.0-flash","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()

	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(body), "junk-")
	require.Contains(t, string(body), `model="unsupported"`)
	require.Contains(t, string(body), `model="gemini-2.0-flash"`)
}
