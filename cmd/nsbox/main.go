// Command nsbox reads one job request from stdin, runs it in a fresh
// Linux sandbox and writes exactly one JSON result line to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"nsbox/internal/sandbox"
	"nsbox/internal/sandbox/engine"
	"nsbox/internal/sandbox/fdutil"
	"nsbox/internal/sandbox/observer"
	"nsbox/internal/sandbox/result"
	"nsbox/pkg/errors"
	"nsbox/pkg/utils/contextkey"
	"nsbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	// Sinks dup what they need; nothing else may reach the helper.
	if err := fdutil.SealInherited(); err != nil {
		report(result.InternalError(err.Error()))
		return
	}
	signal.Ignore(syscall.SIGPIPE)

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		report(result.FromError(errors.Wrapf(err, errors.ConfigInvalid, "load app config failed: %v", err)))
		return
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		report(result.FromError(errors.Wrapf(err, errors.ConfigInvalid, "init logger failed: %v", err)))
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.WithValue(context.Background(), contextkey.JobID, uuid.NewString())
	report(run(ctx, appCfg))
}

func run(ctx context.Context, appCfg *AppConfig) result.Result {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return result.InternalError(fmt.Sprintf("read request: %v", err))
	}
	engCfg, err := appCfg.Sandbox.toEngineConfig()
	if err != nil {
		logger.Error(ctx, "load sandbox config failed", zap.Error(err))
		return result.FromError(errors.Wrapf(err, errors.ConfigInvalid, "%v", err))
	}
	eng, err := engine.NewEngine(engCfg)
	if err != nil {
		logger.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return result.FromError(err)
	}
	return sandbox.NewService(eng, observer.LogRecorder{}).Run(ctx, raw)
}

func report(res result.Result) {
	if err := sandbox.Report(os.Stdout, res); err != nil {
		fmt.Fprintf(os.Stderr, "write result failed: %v\n", err)
		os.Exit(1)
	}
}
