package router

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/af-corp/clinai/internal/router/adapters"
	"github.com/af-corp/clinai/internal/types"
)

// fakeProvider implements adapters.Provider with scripted outcomes.
type fakeProvider struct {
	name    string
	caps    types.CapabilityDescriptor
	initErr error

	mu          sync.Mutex
	chatErrs    []error
	streamErrs  []error
	chunks      []*types.StreamResponse
	midStream   error
	chatCalls   int
	streamCalls int
	streams     []*fakeStream

	healthy atomic.Bool
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		caps: types.CapabilityDescriptor{Chat: true, Stream: true, Models: []string{name + "-model"}},
	}
}

func (f *fakeProvider) Name() string                             { return f.name }
func (f *fakeProvider) Capabilities() types.CapabilityDescriptor { return f.caps.Clone() }
func (f *fakeProvider) IsHealthy() bool                          { return f.healthy.Load() }

func (f *fakeProvider) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy.Store(f.initErr == nil)
	return f.initErr
}

func (f *fakeProvider) setInitErr(err error) {
	f.mu.Lock()
	f.initErr = err
	f.mu.Unlock()
}

func (f *fakeProvider) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	if len(f.chatErrs) > 0 {
		err := f.chatErrs[0]
		f.chatErrs = f.chatErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.ChatResponse{
		ID:           "resp-1",
		Provider:     f.name,
		Model:        f.name + "-model",
		Message:      types.ChatMessage{Role: types.RoleAssistant, Content: "ok from " + f.name},
		Usage:        &types.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		FinishReason: "stop",
	}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, req *types.ChatRequest) (adapters.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	if len(f.streamErrs) > 0 {
		err := f.streamErrs[0]
		f.streamErrs = f.streamErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	chunks := make([]*types.StreamResponse, len(f.chunks))
	for i, c := range f.chunks {
		cp := *c
		chunks[i] = &cp
	}
	s := &fakeStream{ctx: ctx, chunks: chunks, tail: f.midStream}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeProvider) calls() (chat, stream int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls, f.streamCalls
}

// fakeStream yields chunks, then tail (if set) or io.EOF. An empty chunk
// list with no tail blocks until the context is canceled.
type fakeStream struct {
	ctx    context.Context
	chunks []*types.StreamResponse
	tail   error
	pos    int
	closed atomic.Int32
}

func (s *fakeStream) Recv() (*types.StreamResponse, error) {
	if s.closed.Load() > 0 {
		return nil, io.EOF
	}
	if len(s.chunks) == 0 && s.tail == nil {
		<-s.ctx.Done()
		return nil, types.NewTransportError("fake", "canceled", s.ctx.Err())
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.tail != nil {
		return nil, s.tail
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

func contentChunks(parts ...string) []*types.StreamResponse {
	out := make([]*types.StreamResponse, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, &types.StreamResponse{ID: "vendor-1", Model: "m", Delta: types.ChatMessage{Content: p}})
	}
	return append(out, &types.StreamResponse{
		Usage: &types.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
		Done:  true,
	})
}

func userRequest() *types.ChatRequest {
	return &types.ChatRequest{Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "List today's admissions."}}}
}
