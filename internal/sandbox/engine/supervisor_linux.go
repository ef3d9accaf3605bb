//go:build linux

package engine

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"
	"nsbox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type eventKind int

const (
	// evOutcome decides the run: an exit report or a limit.
	evOutcome eventKind = iota + 1
	evFailure
	// evControlClosed means the helper is gone without reporting.
	evControlClosed
)

type event struct {
	kind eventKind
	res  result.Result
	err  error
}

// supervisor watches one running sandbox. The first terminal event wins;
// everything after it is torn down and drained before the result is
// reported.
type supervisor struct {
	runSpec   spec.RunSpec
	cmd       *exec.Cmd
	stdin     io.Closer
	recv      *control.Receiver
	sinks     *sinkSet
	cg        *jobCgroup
	helperLog *limitedBuffer

	events      chan event
	done        chan struct{}
	controlDone chan struct{}
	drains      errgroup.Group
	overflow    atomic.Bool
}

func newSupervisor(runSpec spec.RunSpec, cmd *exec.Cmd, stdin io.Closer, recv *control.Receiver, sinks *sinkSet, cg *jobCgroup, helperLog *limitedBuffer) *supervisor {
	return &supervisor{
		runSpec:     runSpec,
		cmd:         cmd,
		stdin:       stdin,
		recv:        recv,
		sinks:       sinks,
		cg:          cg,
		helperLog:   helperLog,
		events:      make(chan event, 8),
		done:        make(chan struct{}),
		controlDone: make(chan struct{}),
	}
}

func (s *supervisor) emit(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *supervisor) emitOutcome(res result.Result) {
	s.emit(event{kind: evOutcome, res: res})
}

func (s *supervisor) emitFailure(err error) {
	s.emit(event{kind: evFailure, err: err})
}

func (s *supervisor) wait(ctx context.Context) (result.Result, error) {
	var deadline <-chan time.Time
	if s.runSpec.Limits.HasDeadline() {
		timer := time.NewTimer(s.runSpec.Limits.Deadline)
		defer timer.Stop()
		deadline = timer.C
	}
	go s.readControl(ctx)
	if s.cg != nil {
		go s.cg.watch(s.done, s.emitOutcome)
	}

	var (
		res     result.Result
		decided bool
		failure error
	)
	for !decided && failure == nil {
		select {
		case <-deadline:
			res, decided = result.TimeLimit(), true
		case <-ctx.Done():
			failure = errors.Wrapf(ctx.Err(), errors.InternalError, "run aborted: %v", ctx.Err())
		case ev := <-s.events:
			switch ev.kind {
			case evOutcome:
				res, decided = ev.res, true
			case evFailure:
				failure = ev.err
			case evControlClosed:
				failure = errors.New(errors.HelperFailed).WithMessage("sandbox helper exited without reporting a status")
			}
		}
	}
	close(s.done)
	s.teardown(ctx)

	if failure != nil {
		logger.Debug(ctx, "sandbox run failed", zap.Error(failure))
		return result.Result{}, failure
	}
	return s.finalize(ctx, res), nil
}

// teardown kills the whole sandbox, reaps the helper and waits until
// every stream reached EOF.
func (s *supervisor) teardown(ctx context.Context) {
	if s.cg != nil {
		_ = s.cg.kill()
	}
	// The helper is PID 1 of the sandbox; its death takes every process in
	// the namespace with it.
	_ = s.cmd.Process.Kill()
	if err := s.cmd.Wait(); err != nil {
		logger.Debug(ctx, "sandbox helper reaped", zap.Error(err))
	}
	// Unblocks the request encoder if the helper died before reading it.
	_ = s.stdin.Close()
	if out := s.helperLog.String(); out != "" {
		logger.Info(ctx, "sandbox helper stderr", zap.String("stderr", out))
	}
	<-s.controlDone
	_ = s.recv.Close()
	if err := s.drains.Wait(); err != nil {
		logger.Warn(ctx, "stream drain failed", zap.Error(err))
	}
}

// finalize lets limits observed after the decision override a plain exit
// or kill report: the cgroup counters first, then output overflow.
func (s *supervisor) finalize(ctx context.Context, res result.Result) result.Result {
	if res.Status != result.StatusExited && res.Status != result.StatusKilled {
		return res
	}
	if s.cg != nil {
		if limited, hit := s.cg.events().outcome(); hit {
			logger.Debug(ctx, "cgroup limit observed after exit", zap.String("status", string(limited.Status)))
			return limited
		}
	}
	if s.overflow.Load() {
		return result.FileLimit()
	}
	return res
}

func (s *supervisor) readControl(ctx context.Context) {
	defer close(s.controlDone)
	for {
		msg, f, err := s.recv.Receive()
		if err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				s.emit(event{kind: evControlClosed})
			} else {
				s.emitFailure(errors.Wrapf(err, errors.ControlFailed, "read control socket: %v", err))
			}
			return
		}
		if err := s.handle(ctx, msg, f); err != nil {
			s.emitFailure(err)
		}
	}
}

func (s *supervisor) handle(ctx context.Context, msg control.Message, f *os.File) error {
	if f != nil && msg.Kind != control.KindPipe && msg.Kind != control.KindCopyFile {
		_ = f.Close()
		f = nil
	}
	switch msg.Kind {
	case control.KindPipe:
		st := s.sinks.pipe(msg.Index)
		if st == nil || f == nil {
			if f != nil {
				_ = f.Close()
			}
			return errors.Newf(errors.ControlFailed, "bad pipe message for index %d", msg.Index)
		}
		s.startDrain(ctx, st, f)
	case control.KindStarted:
		logger.Debug(ctx, "command started", zap.Int("pid", msg.Pid))
	case control.KindCopyFile:
		st := s.sinks.copy(msg.Index)
		if st == nil || f == nil {
			if f != nil {
				_ = f.Close()
			}
			return errors.Newf(errors.ControlFailed, "bad copyFile message for index %d", msg.Index)
		}
		return s.copyFile(ctx, st, f)
	case control.KindExit:
		if msg.Signaled {
			s.emitOutcome(result.Killed(signalName(msg.Signal)))
		} else {
			s.emitOutcome(result.Exited(msg.Code))
		}
	case control.KindFail:
		return msg.Err()
	default:
		return errors.Newf(errors.ControlFailed, "unexpected control message %q", msg.Kind)
	}
	return nil
}

// startDrain copies a pipe into its sink in the background. Crossing the
// byte limit ends the run with fileLimit.
func (s *supervisor) startDrain(ctx context.Context, st *stream, r *os.File) {
	s.drains.Go(func() error {
		defer r.Close()
		n, exceeded, err := drain(st.sink, r, st.spec.MaxBytes)
		if err != nil {
			err = errors.Wrapf(err, errors.PipeSetupFailed, "%s: %v", st.name, err)
			s.emitFailure(err)
			return err
		}
		logger.Debug(ctx, "stream drained", zap.String("stream", st.name), zap.Int64("bytes", n), zap.Bool("exceeded", exceeded))
		if exceeded {
			s.overflow.Store(true)
			s.emitOutcome(result.FileLimit())
		}
		return nil
	})
}

// copyFile runs on the control reader so that all copies finish before
// the exit report that follows them is seen.
func (s *supervisor) copyFile(ctx context.Context, st *stream, src *os.File) error {
	defer src.Close()
	n, exceeded, err := drain(st.sink, src, st.spec.MaxBytes)
	if err != nil {
		return errors.Wrapf(err, errors.CopyFileFailed, "%s: %v", st.name, err)
	}
	logger.Debug(ctx, "file copied", zap.String("stream", st.name), zap.Int64("bytes", n), zap.Bool("exceeded", exceeded))
	if exceeded {
		s.overflow.Store(true)
		s.emitOutcome(result.FileLimit())
	}
	return nil
}
