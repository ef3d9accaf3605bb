package engine

import (
	"context"

	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
//
// Run returns a runtime outcome (exited, killed or a limit) with a nil
// error. Setup and supervision failures are returned as coded errors.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.Result, error)
}
