//go:build linux

package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"
	"nsbox/pkg/utils/contextkey"
	"nsbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// helperCaps are raised as ambient capabilities so they survive the exec
// of the helper under a non-root identity inside the user namespace.
var helperCaps = []uintptr{
	unix.CAP_SETGID,
	unix.CAP_SETUID,
	unix.CAP_SETPCAP,
	unix.CAP_SYS_CHROOT,
	unix.CAP_NET_ADMIN,
	unix.CAP_SYS_ADMIN,
}

type linuxEngine struct {
	cfg    Config
	helper string
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	helper, err := resolveHelper(cfg.HelperPath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ConfigInvalid, "%v", err)
	}
	if cfg.Seccomp != nil {
		if err := cfg.Seccomp.Validate(); err != nil {
			return nil, errors.Wrapf(err, errors.ConfigInvalid, "seccomp profile: %v", err)
		}
	}
	return &linuxEngine{cfg: cfg, helper: helper}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.Result, error) {
	logger.Info(ctx, "job accepted",
		zap.String("cmd", runSpec.Cmd[0]),
		zap.Duration("timeLimit", runSpec.Limits.Deadline),
		zap.Int64("memoryLimit", runSpec.Limits.MemoryBytes),
		zap.Int64("pidsLimit", runSpec.Limits.PIDs),
	)
	sinks, err := openSinks(runSpec)
	if err != nil {
		return result.Result{}, err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn(ctx, "close sinks failed", zap.Error(err))
		}
	}()

	var cg *jobCgroup
	if runSpec.Limits.NeedsCgroup() {
		cg, err = createJobCgroup(e.cfg.CgroupRoot, jobID(ctx), runSpec.Limits)
		if err != nil {
			return result.Result{}, errors.Wrapf(err, errors.CgroupSetupFailed, "create cgroup: %v", err)
		}
		logger.Debug(ctx, "job cgroup created", zap.String("cgroup", cg.path))
		defer func() {
			if err := cg.destroy(); err != nil {
				logger.Warn(ctx, "cgroup cleanup failed", zap.String("cgroup", cg.path), zap.Error(err))
			}
		}()
	}

	sup, err := e.start(ctx, runSpec, sinks, cg)
	if err != nil {
		return result.Result{}, err
	}
	return sup.wait(ctx)
}

// start lays out the helper's descriptors, spawns it into fresh
// namespaces and begins draining stream pipes.
//
// Helper descriptors: 3 is the control socket, followed by the write ends
// of stream pipes and the job cgroup directory, in that order.
func (e *linuxEngine) start(ctx context.Context, runSpec spec.RunSpec, sinks *sinkSet, cg *jobCgroup) (*supervisor, error) {
	parentSock, childSock, err := control.SocketPair()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ControlFailed, "%v", err)
	}
	recv, err := control.NewReceiver(parentSock)
	if err != nil {
		_ = childSock.Close()
		return nil, errors.Wrapf(err, errors.ControlFailed, "%v", err)
	}

	initReq := buildInitRequest(runSpec, e.cfg.Seccomp)
	extra := []*os.File{childSock}
	closeAfterStart := []*os.File{childSock}
	addExtra := func(f *os.File) int {
		extra = append(extra, f)
		return control.SocketFD + len(extra) - 1
	}
	closeChildEnds := func() {
		for _, f := range closeAfterStart {
			_ = f.Close()
		}
	}

	type pending struct {
		st *stream
		r  *os.File
	}
	var drains []pending
	fail := func(err error) (*supervisor, error) {
		closeChildEnds()
		for _, d := range drains {
			_ = d.r.Close()
		}
		_ = recv.Close()
		return nil, err
	}

	for _, st := range sinks.pipes {
		if st.spec.FIFO != "" {
			continue
		}
		r, w, err := os.Pipe()
		if err != nil {
			return fail(errors.Wrapf(err, errors.PipeSetupFailed, "%s: %v", st.name, err))
		}
		closeAfterStart = append(closeAfterStart, w)
		drains = append(drains, pending{st: st, r: r})
		fd := addExtra(w)
		if st.spec.Stdout {
			initReq.StdoutFD = fd
		}
		if st.spec.Stderr {
			initReq.StderrFD = fd
		}
	}
	if cg != nil {
		initReq.CgroupFD = addExtra(cg.jobDir)
	}

	// Closed by the supervisor once the helper is reaped; exec copies it
	// to the helper in the background.
	stdin := jsonToPipe(initReq)

	helperLog := &limitedBuffer{max: e.cfg.HelperStderrMaxBytes}
	cmd := exec.Command(e.helper)
	cmd.Env = []string{}
	cmd.Stdin = stdin
	cmd.Stderr = helperLog
	cmd.ExtraFiles = extra
	cmd.SysProcAttr = buildSysProcAttr(runSpec, cg)

	// Pdeathsig is tied to the thread that forked the helper.
	runtime.LockOSThread()
	err = cmd.Start()
	runtime.UnlockOSThread()
	if err != nil {
		_ = stdin.Close()
		return fail(errors.Wrapf(err, errors.HelperStartFailed, "start sandbox helper: %v", err))
	}
	closeChildEnds()
	logger.Debug(ctx, "sandbox helper started", zap.Int("pid", cmd.Process.Pid), zap.Strings("cmd", runSpec.Cmd))

	sup := newSupervisor(runSpec, cmd, stdin, recv, sinks, cg, helperLog)
	for _, d := range drains {
		sup.startDrain(ctx, d.st, d.r)
	}
	return sup, nil
}

func buildSysProcAttr(runSpec spec.RunSpec, cg *jobCgroup) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGKILL,
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
			syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET,
		UidMappings: []syscall.SysProcIDMap{{
			ContainerID: runSpec.UID,
			HostID:      os.Geteuid(),
			Size:        1,
		}},
		GidMappings: []syscall.SysProcIDMap{{
			ContainerID: runSpec.GID,
			HostID:      os.Getegid(),
			Size:        1,
		}},
		GidMappingsEnableSetgroups: false,
		AmbientCaps:                helperCaps,
	}
	if cg != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cg.initDir.Fd())
	}
	return attr
}

func jobID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(contextkey.JobID).(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// limitedBuffer keeps the first max bytes written to it and drops the rest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func signalName(sig int) string {
	if name := unix.SignalName(syscall.Signal(sig)); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", sig)
}
