//go:build !linux

package engine

import (
	"context"

	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.Result, error) {
	return result.Result{}, errors.Newf(errors.NamespaceSetupFailed, "sandbox engine is only supported on linux")
}
