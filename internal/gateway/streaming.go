package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/af-corp/clinai/internal/httputil"
	"github.com/af-corp/clinai/internal/router"
	"github.com/af-corp/clinai/internal/types"
)

// streamSummary is what the handler needs after the last chunk.
type streamSummary struct {
	Model     string
	Usage     *types.Usage
	Err       *types.AIError
	Chunks    int
	Abandoned bool
}

// streamSSE writes every chunk of stream as `data: <json>` events and ends
// with `data: [DONE]`. A failed write means the client left; the stream is
// closed and the summary marked abandoned.
func streamSSE(w http.ResponseWriter, reqID string, stream *router.ChatStream) streamSummary {
	defer stream.Close()

	var sum streamSummary
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		sum.Abandoned = true
		return sum
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("stream receive failed", "request_id", reqID, "error", err)
			break
		}

		sum.Chunks++
		if chunk.Model != "" {
			sum.Model = chunk.Model
		}
		if chunk.Usage != nil {
			sum.Usage = chunk.Usage
		}
		if chunk.Error != nil {
			sum.Err = chunk.Error
		}

		data, err := json.Marshal(redacted(chunk))
		if err != nil {
			slog.Error("failed to encode stream chunk", "request_id", reqID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			sum.Abandoned = true
			return sum
		}
		flusher.Flush()

		if chunk.Done {
			break
		}
	}

	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		sum.Abandoned = true
		return sum
	}
	flusher.Flush()
	return sum
}

// redacted drops the vendor's raw error body before a chunk leaves the
// gateway.
func redacted(chunk *types.StreamResponse) *types.StreamResponse {
	if chunk.Error == nil || chunk.Error.Raw == "" {
		return chunk
	}
	out := *chunk
	aiErr := *chunk.Error
	aiErr.Raw = ""
	out.Error = &aiErr
	return &out
}
