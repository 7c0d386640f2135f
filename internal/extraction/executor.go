package extraction

import (
	"context"
	"fmt"

	"github.com/jonathan/shorts-agent/internal/types"
)

// Invocation is one call of an extraction tool for a strategy. CredentialHandle
// is set only for authenticated strategies.
type Invocation struct {
	VideoID          string
	Strategy         types.ExtractionStrategy
	CredentialHandle string
}

// Executor runs a strategy and returns every subtitle artifact it produced.
// Failures carry the upstream's diagnostic text, usually as a *ToolError.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error) {
	return f(ctx, inv)
}

// Executors dispatches invocations by the strategy's tool.
type Executors map[types.Tool]Executor

// Execute implements Executor.
func (e Executors) Execute(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error) {
	exec, ok := e[inv.Strategy.Tool]
	if !ok {
		return nil, fmt.Errorf("no executor registered for tool %q: %w", inv.Strategy.Tool, ErrToolMissing)
	}
	if inv.Strategy.UsesAuthentication && inv.CredentialHandle == "" {
		return nil, fmt.Errorf("strategy %s requires credentials", inv.Strategy.ID)
	}
	if !inv.Strategy.UsesAuthentication {
		inv.CredentialHandle = ""
	}
	return exec.Execute(ctx, inv)
}
