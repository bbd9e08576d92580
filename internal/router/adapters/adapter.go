package adapters

import (
	"context"

	"github.com/af-corp/clinai/internal/types"
)

// Provider is the contract every vendor adapter implements. Configuration
// is bound at construction; Initialize validates it against the vendor.
type Provider interface {
	Name() string
	Capabilities() types.CapabilityDescriptor
	// Initialize performs a minimal probe. It fails with an auth error only
	// when the vendor rejects the credential.
	Initialize(ctx context.Context) error
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	// StreamChat returns once the vendor has accepted the request.
	StreamChat(ctx context.Context, req *types.ChatRequest) (Stream, error)
	// IsHealthy reflects the last recorded outcome and never blocks.
	IsHealthy() bool
}

// Stream is a pull-based, non-restartable sequence of chunks. Recv yields
// chunks in vendor order; the vendor terminator yields a chunk with Done
// set, after which Recv returns io.EOF. Close releases the transport and
// may be called at any time, more than once.
type Stream interface {
	Recv() (*types.StreamResponse, error)
	Close() error
}

// DefaultCapabilities is what an adapter of the given type advertises
// before configuration overrides.
func DefaultCapabilities(providerType string) types.CapabilityDescriptor {
	if providerType == "anthropic" {
		return anthropicCapabilities()
	}
	return openAICapabilities(providerType)
}
