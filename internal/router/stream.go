package router

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/af-corp/clinai/internal/router/adapters"
	"github.com/af-corp/clinai/internal/types"
	"github.com/google/uuid"
)

// streamResult is reported once per stream when it ends.
type streamResult struct {
	err       error
	tokens    int
	abandoned bool
}

// ChatStream normalizes an adapter stream. Every chunk carries the same ID
// and the provider name, and exactly one chunk has Done set: the vendor's
// terminator, or a synthesized chunk carrying the error that ended the
// stream. After that Recv returns io.EOF.
type ChatStream struct {
	provider string
	id       string
	model    string

	src     adapters.Stream
	pending *types.StreamResponse
	cancel  context.CancelFunc

	mu       sync.Mutex
	done     bool
	tokens   int
	onFinish func(streamResult)
}

func newChatStream(provider string, src adapters.Stream, first *types.StreamResponse, cancel context.CancelFunc, onFinish func(streamResult)) *ChatStream {
	s := &ChatStream{
		provider: provider,
		src:      src,
		pending:  first,
		cancel:   cancel,
		onFinish: onFinish,
	}
	if first != nil {
		s.id = first.ID
		s.model = first.Model
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s
}

// newErrorStream yields a single terminal chunk carrying err.
func newErrorStream(provider string, err error) *ChatStream {
	s := &ChatStream{provider: provider, id: uuid.NewString()}
	s.pending = s.errorChunk(err)
	return s
}

func (s *ChatStream) ID() string { return s.id }

func (s *ChatStream) Recv() (*types.StreamResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	chunk := s.pending
	s.pending = nil
	if chunk == nil {
		var err error
		chunk, err = s.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = types.NewTransportError(s.provider, "stream ended before terminator", io.ErrUnexpectedEOF)
			}
			chunk = s.errorChunk(err)
		}
	}

	s.stamp(chunk)
	if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
		s.tokens = chunk.Usage.TotalTokens
	}
	if chunk.Done {
		var err error
		if chunk.Error != nil {
			err = chunk.Error
		}
		s.finish(streamResult{err: err, tokens: s.tokens})
	}
	return chunk, nil
}

// Close releases the underlying transport. Closing before the terminal
// chunk counts as abandonment, not failure. It may be called while another
// goroutine is blocked in Recv.
func (s *ChatStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done {
		s.finish(streamResult{tokens: s.tokens, abandoned: true})
	}
	return nil
}

// finish runs once; mu must be held.
func (s *ChatStream) finish(res streamResult) {
	s.done = true
	if s.src != nil {
		s.src.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onFinish != nil {
		s.onFinish(res)
		s.onFinish = nil
	}
}

func (s *ChatStream) stamp(chunk *types.StreamResponse) {
	chunk.ID = s.id
	chunk.Provider = s.provider
	if chunk.Model == "" {
		chunk.Model = s.model
	} else if s.model == "" {
		s.model = chunk.Model
	}
	if chunk.Error != nil {
		chunk.Done = true
	}
}

func (s *ChatStream) errorChunk(err error) *types.StreamResponse {
	return &types.StreamResponse{
		ID:       s.id,
		Provider: s.provider,
		Model:    s.model,
		Error:    toAIError(s.provider, err),
		Done:     true,
	}
}

// toAIError keeps AIErrors intact and folds anything else into a transport
// error.
func toAIError(provider string, err error) *types.AIError {
	if aiErr, ok := types.AsAIError(err); ok {
		return aiErr
	}
	return types.NewTransportError(provider, "stream failed", err)
}
