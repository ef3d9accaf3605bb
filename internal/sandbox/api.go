// Package sandbox runs a single job request through validation, planning
// and the isolation engine, and reports exactly one result.
package sandbox

import (
	"context"
	"io"
	"time"

	"nsbox/internal/sandbox/engine"
	"nsbox/internal/sandbox/observer"
	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"
)

// Service is the entrypoint used by the nsbox command.
type Service struct {
	engine   engine.Engine
	recorder observer.Recorder
}

// NewService wires an engine and a recorder. A nil recorder discards
// observations.
func NewService(eng engine.Engine, recorder observer.Recorder) *Service {
	if recorder == nil {
		recorder = observer.NopRecorder{}
	}
	return &Service{engine: eng, recorder: recorder}
}

// Run validates raw, executes it and maps every failure onto a result.
// It never returns without a result.
func (s *Service) Run(ctx context.Context, raw []byte) result.Result {
	start := time.Now()
	res := s.run(ctx, raw)
	s.recorder.ObserveRun(ctx, res, time.Since(start))
	return res
}

func (s *Service) run(ctx context.Context, raw []byte) result.Result {
	req, err := request.Parse(raw)
	if err != nil {
		return result.FromError(err)
	}
	res, err := s.engine.Run(ctx, spec.Build(req))
	if err != nil {
		return result.FromError(err)
	}
	return res
}

// Report writes res as the single output line.
func Report(w io.Writer, res result.Result) error {
	return result.Write(w, res)
}
