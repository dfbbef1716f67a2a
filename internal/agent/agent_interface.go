package agent

import (
	"context"
)

// Responder produces the assistant reply for one chat turn.
// This interface is implemented by the gRPC client.
type Responder interface {
	// Generate returns the raw assistant reply for req.
	Generate(ctx context.Context, req Request) (string, error)

	// Close releases resources.
	Close()
}

// Ensure GrpcClient implements Responder.
var _ Responder = (*GrpcClient)(nil)
