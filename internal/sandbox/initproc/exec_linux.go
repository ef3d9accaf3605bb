//go:build linux

package initproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"nsbox/internal/sandbox/control"
	"nsbox/pkg/errors"

	"golang.org/x/sys/unix"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// spawn starts the command in its own session with exactly three
// descriptors, moving it into the job cgroup when one is set.
func (h *helper) spawn() (int, error) {
	name := h.req.Cmd[0]
	path, err := lookPath(name, h.req.Env)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ExecFailed, "exec %s: %v", name, err)
	}
	attr := &syscall.ProcAttr{
		Env:   h.req.Env,
		Files: []uintptr{uintptr(h.devNull), uintptr(h.stdout), uintptr(h.stderr)},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	if h.req.CgroupFD != control.NoFD {
		attr.Sys.UseCgroupFD = true
		attr.Sys.CgroupFD = h.req.CgroupFD
	}
	pid, err := syscall.ForkExec(path, h.req.Cmd, attr)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ExecFailed, "exec %s: %v", name, err)
	}
	return pid, nil
}

// lookPath resolves name against PATH from the command's environment,
// falling back to a standard search path. Names with a slash are used as
// they are.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	path := defaultPath
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
			break
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("executable file not found in %s", path)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// reap collects every child reparented to PID 1 until the command itself
// exits.
func reap(pid int) (unix.WaitStatus, error) {
	for {
		var status unix.WaitStatus
		wpid, err := unix.Wait4(-1, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return status, fmt.Errorf("wait for command: %w", err)
		}
		if wpid == pid {
			return status, nil
		}
	}
}
