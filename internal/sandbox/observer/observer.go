// Package observer defines logging hooks for sandbox execution.
package observer

import (
	"context"
	"time"

	"nsbox/internal/sandbox/result"
	"nsbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Recorder observes finished runs.
type Recorder interface {
	ObserveRun(ctx context.Context, res result.Result, elapsed time.Duration)
}

// LogRecorder writes one structured log entry per run.
type LogRecorder struct{}

func (LogRecorder) ObserveRun(ctx context.Context, res result.Result, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", elapsed),
	}
	if res.Code != nil {
		fields = append(fields, zap.Int("code", *res.Code))
	}
	if res.Signal != "" {
		fields = append(fields, zap.String("signal", res.Signal))
	}
	if res.Description != "" {
		fields = append(fields, zap.String("description", res.Description))
	}
	if res.IsRuntimeOutcome() {
		logger.Info(ctx, "sandbox run finished", fields...)
		return
	}
	logger.Warn(ctx, "sandbox run failed", fields...)
}

// NopRecorder discards observations.
type NopRecorder struct{}

func (NopRecorder) ObserveRun(context.Context, result.Result, time.Duration) {}
