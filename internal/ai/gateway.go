package ai

import "context"

// State is the provider-side progress of a generation.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// SubmitResult is the canonical answer to a submission. At least one of
// ExternalID and ArtifactURL is set.
type SubmitResult struct {
	ExternalID  string
	ArtifactURL string
	Raw         []byte
}

type StatusResult struct {
	State       State
	ArtifactURL string
	Raw         []byte
}

// Gateway adapts the canonical (kind, model, params) tuple to one remote
// provider. Implementations hold no job state.
type Gateway interface {
	Submit(ctx context.Context, kind, model string, params map[string]any) (*SubmitResult, error)
	Status(ctx context.Context, kind, externalID string) (*StatusResult, error)
}
