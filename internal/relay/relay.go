// Package relay converts an upstream chunk stream into the gateway's
// `data: <json>\n\n` byte stream.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/observability"
)

const (
	// DoneFrame terminates a successful stream.
	DoneFrame = "data: [DONE]\n\n"

	progressEvery = 10
)

// ErrStreamAborted is returned when the upstream fails after frames were sent.
// The response can no longer carry a JSON error, so the connection must be
// torn down instead.
var ErrStreamAborted = errors.New("stream aborted after response started")

// Result summarizes a relayed stream.
type Result struct {
	// Frames is the number of chunk frames written, excluding the sentinel.
	Frames int
	// Started reports whether headers and at least one byte were committed.
	Started bool
	// Completed reports whether the sentinel was written.
	Completed bool
}

// SetHeaders sets the streaming response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Frame renders one chunk as a stream frame.
func Frame(data json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + len("data: \n\n"))
	buf.WriteString("data: ")
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("invalid chunk payload: %w", err)
	}
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Relay writes one frame per chunk, in arrival order, flushing after each.
//
// Headers are committed with the first frame. An upstream error seen before
// that is returned unchanged with Started=false, so the caller can still send
// a regular error response. After that, failures are wrapped in
// ErrStreamAborted and no sentinel is written.
//
// Relay never drains chunks after returning; the caller must cancel the
// context that feeds the channel.
func Relay(ctx context.Context, w http.ResponseWriter, chunks <-chan domain.StreamChunk) (Result, error) {
	logger := observability.FromContext(ctx)
	rc := http.NewResponseController(w)

	var res Result

	start := func() {
		if res.Started {
			return
		}
		SetHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		res.Started = true
	}

	fail := func(err error) (Result, error) {
		if res.Started {
			return res, fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream context done",
				observability.Error(ctx.Err()),
				observability.Int("chunk_count", res.Frames))
			return fail(ctx.Err())

		case chunk, ok := <-chunks:
			if !ok {
				start()
				if _, err := w.Write([]byte(DoneFrame)); err != nil {
					return fail(err)
				}
				if err := rc.Flush(); err != nil {
					return fail(err)
				}
				res.Completed = true
				logger.Info("streaming completed", observability.Int("total_chunks", res.Frames))
				return res, nil
			}

			if chunk.Err != nil {
				logger.Error("error in streaming",
					observability.Error(chunk.Err),
					observability.Int("chunk_count", res.Frames))
				return fail(chunk.Err)
			}

			frame, err := Frame(chunk.Data)
			if err != nil {
				logger.Error("upstream sent malformed chunk", observability.Error(err))
				return fail(domain.NewUnknownError(domain.StageRelay, err))
			}

			start()
			if _, err := w.Write(frame); err != nil {
				logger.Warn("failed to write stream frame", observability.Error(err))
				return fail(err)
			}
			if err := rc.Flush(); err != nil {
				return fail(err)
			}

			res.Frames++
			if res.Frames%progressEvery == 0 {
				logger.Info("streaming progress", observability.Int("chunk_count", res.Frames))
			}
		}
	}
}
