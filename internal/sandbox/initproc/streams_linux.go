//go:build linux

package initproc

import (
	"fmt"

	"nsbox/internal/sandbox/control"
	"nsbox/pkg/errors"

	"golang.org/x/sys/unix"
)

// prepareStreams wires the command's stdout and stderr and creates FIFO
// pipes. FIFO read ends go to the supervisor right away.
func (h *helper) prepareStreams() error {
	if fd := h.req.StdoutFD; fd != control.NoFD {
		h.stdout = fd
		h.owned = append(h.owned, fd)
	}
	if fd := h.req.StderrFD; fd != control.NoFD {
		h.stderr = fd
		if fd != h.req.StdoutFD {
			h.owned = append(h.owned, fd)
		}
	}

	for _, s := range h.req.FIFOs {
		if err := h.openFIFO(s); err != nil {
			return errors.Wrapf(err, errors.PipeSetupFailed, "pipes[%d]: %v", s.Index, err)
		}
	}
	for _, s := range h.req.CopyFiles {
		if !s.Stdout && !s.Stderr {
			continue
		}
		fd, err := unix.Open(s.Path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0600)
		if err != nil {
			return errors.Wrapf(err, errors.PipeSetupFailed, "copyFiles[%d]: create %s: %v", s.Index, s.Path, err)
		}
		h.owned = append(h.owned, fd)
		h.route(s, fd)
	}
	return nil
}

func (h *helper) openFIFO(s control.Stream) error {
	if err := unix.Mkfifo(s.Path, 0600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", s.Path, err)
	}
	// The read end must exist first or the write open would block.
	rfd, err := unix.Open(s.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s for reading: %w", s.Path, err)
	}
	defer unix.Close(rfd)
	wfd, err := unix.Open(s.Path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", s.Path, err)
	}
	h.keepalive = append(h.keepalive, wfd)
	h.route(s, wfd)
	return control.Send(h.sock, control.Message{Kind: control.KindPipe, Index: s.Index}, rfd)
}

func (h *helper) route(s control.Stream, fd int) {
	if s.Stdout {
		h.stdout = fd
	}
	if s.Stderr {
		h.stderr = fd
	}
}

// sendCopyFiles hands every copy source to the supervisor once the
// command has exited.
func (h *helper) sendCopyFiles() error {
	for _, s := range h.req.CopyFiles {
		fd, err := unix.Open(s.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
		if err != nil {
			return errors.Wrapf(err, errors.CopyFileFailed, "copyFiles[%d]: open %s: %v", s.Index, s.Path, err)
		}
		err = control.Send(h.sock, control.Message{Kind: control.KindCopyFile, Index: s.Index}, fd)
		_ = unix.Close(fd)
		if err != nil {
			return errors.Wrapf(err, errors.ControlFailed, "%v", err)
		}
	}
	return nil
}
