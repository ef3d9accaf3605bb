//go:build linux

package initproc

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/fdutil"
	"nsbox/pkg/errors"

	"golang.org/x/sys/unix"
)

// Main runs the helper and exits. It must be called on a locked main
// thread: capabilities, seccomp and personality only apply to the
// calling thread and the command is forked from it.
func Main() {
	h := &helper{sock: control.SocketFD}
	if err := h.run(); err != nil {
		if serr := control.Send(h.sock, control.Failure(err), control.NoFD); serr != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
	os.Exit(0)
}

type helper struct {
	sock    int
	req     control.InitRequest
	devNull int
	stdout  int
	stderr  int
	// owned descriptors are closed once the command holds them.
	owned []int
	// keepalive holds FIFO write ends so readers see no EOF before the
	// command is gone.
	keepalive []int
}

func (h *helper) run() error {
	req, err := control.Decode(os.Stdin)
	if err != nil {
		return errors.Wrapf(err, errors.HelperFailed, "%v", err)
	}
	if len(req.Cmd) == 0 {
		return errors.Newf(errors.HelperFailed, "empty command")
	}
	h.req = req

	if err := fdutil.SealInherited(); err != nil {
		return errors.Wrapf(err, errors.HelperFailed, "%v", err)
	}
	absorbSignals()
	if h.devNull, err = unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0); err != nil {
		return errors.Wrapf(err, errors.HelperFailed, "open /dev/null: %v", err)
	}
	h.stdout, h.stderr = h.devNull, h.devNull

	if err := setupNetwork(); err != nil {
		return err
	}
	if err := setupUTS(req.HostName, req.DomainName); err != nil {
		return err
	}
	if err := setupMounts(req.Chroot, req.Mounts); err != nil {
		return err
	}
	if err := enterRoot(req.Chroot, req.WorkDir); err != nil {
		return err
	}
	if !req.VARandomize {
		if err := disableASLR(); err != nil {
			return errors.Wrapf(err, errors.HelperFailed, "disable address randomization: %v", err)
		}
	}
	if err := h.prepareStreams(); err != nil {
		return err
	}
	if err := dropPrivileges(req.UID, req.GID); err != nil {
		return errors.Wrapf(err, errors.IdentityFailed, "%v", err)
	}
	if err := applyRlimits(); err != nil {
		return errors.Wrapf(err, errors.IdentityFailed, "%v", err)
	}
	if req.Seccomp != nil {
		if err := applySeccomp(req.Seccomp); err != nil {
			return errors.Wrapf(err, errors.SeccompFailed, "%v", err)
		}
	}

	pid, err := h.spawn()
	if err != nil {
		return err
	}
	h.closeOwned()
	if err := control.Send(h.sock, control.Message{Kind: control.KindStarted, Pid: pid}, control.NoFD); err != nil {
		return errors.Wrapf(err, errors.ControlFailed, "%v", err)
	}

	status, err := reap(pid)
	if err != nil {
		return errors.Wrapf(err, errors.HelperFailed, "%v", err)
	}
	h.closeKeepalive()

	if err := h.sendCopyFiles(); err != nil {
		return err
	}
	exit := control.Message{Kind: control.KindExit}
	if status.Signaled() {
		exit.Signaled = true
		exit.Signal = int(status.Signal())
	} else {
		exit.Code = status.ExitStatus()
	}
	if err := control.Send(h.sock, exit, control.NoFD); err != nil {
		return errors.Wrapf(err, errors.ControlFailed, "%v", err)
	}
	return nil
}

// absorbSignals keeps the helper alive when processes in the sandbox
// signal PID 1. Handled signals revert to their defaults in the command.
func absorbSignals() {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGALRM, syscall.SIGPIPE)
	go func() {
		for range ch {
		}
	}()
}

func (h *helper) closeOwned() {
	for _, fd := range h.owned {
		_ = unix.Close(fd)
	}
	h.owned = nil
}

func (h *helper) closeKeepalive() {
	for _, fd := range h.keepalive {
		_ = unix.Close(fd)
	}
	h.keepalive = nil
}
