// Package control defines the channel between the supervisor and the sandbox
// helper: the init request written to the helper's stdin and the messages
// sent back over the control socket, optionally carrying file descriptors.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"
)

// SocketFD is the descriptor number of the control socket inside the helper.
const SocketFD = 3

// NoFD marks an absent descriptor slot.
const NoFD = -1

// Stream describes a pipe or copy-file entry the helper has to prepare.
// Path is a FIFO to create or a copy source, resolved inside the sandbox.
type Stream struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Stdout bool   `json:"stdout,omitempty"`
	Stderr bool   `json:"stderr,omitempty"`
}

// InitRequest is everything the helper needs to build the sandbox and
// start the command.
type InitRequest struct {
	Cmd         []string         `json:"cmd"`
	Env         []string         `json:"env"`
	WorkDir     string           `json:"workDir"`
	UID         int              `json:"uid"`
	GID         int              `json:"gid"`
	HostName    string           `json:"hostName"`
	DomainName  string           `json:"domainName"`
	Chroot      string           `json:"chroot,omitempty"`
	VARandomize bool             `json:"vaRandomize"`
	Mounts      []spec.MountSpec `json:"mounts,omitempty"`
	FIFOs       []Stream         `json:"fifos,omitempty"`
	CopyFiles   []Stream         `json:"copyFiles,omitempty"`
	// StdoutFD and StderrFD are inherited pipe ends for the command, or NoFD.
	StdoutFD int `json:"stdoutFd"`
	StderrFD int `json:"stderrFd"`
	// CgroupFD is an inherited directory descriptor of the job cgroup, or NoFD.
	CgroupFD int             `json:"cgroupFd"`
	Seccomp  *SeccompProfile `json:"seccomp,omitempty"`
}

// Encode writes req as JSON.
func Encode(w io.Writer, req InitRequest) error {
	return json.NewEncoder(w).Encode(req)
}

// Decode reads one InitRequest.
func Decode(r io.Reader) (InitRequest, error) {
	var req InitRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return InitRequest{}, fmt.Errorf("decode init request: %w", err)
	}
	return req, nil
}

// Kind discriminates control messages.
type Kind string

const (
	// KindPipe carries the read end of a FIFO pipe.
	KindPipe Kind = "pipe"
	// KindStarted reports that the command was executed.
	KindStarted Kind = "started"
	// KindCopyFile carries an opened copy source after the command ended.
	KindCopyFile Kind = "copyFile"
	// KindExit reports how the command terminated. It is the last message
	// of a successful run.
	KindExit Kind = "exit"
	// KindFail reports a setup or post-processing failure.
	KindFail Kind = "fail"
)

// Message is one control datagram.
type Message struct {
	Kind        Kind             `json:"kind"`
	Index       int              `json:"index,omitempty"`
	Pid         int              `json:"pid,omitempty"`
	Code        int              `json:"code,omitempty"`
	Signal      int              `json:"signal,omitempty"`
	Signaled    bool             `json:"signaled,omitempty"`
	ErrorCode   errors.ErrorCode `json:"errorCode,omitempty"`
	Description string           `json:"description,omitempty"`
}

// Failure builds a fail message from err, keeping its error code.
func Failure(err error) Message {
	return Message{Kind: KindFail, ErrorCode: errors.GetCode(err), Description: err.Error()}
}

// Err converts a fail message back into a coded error.
func (m Message) Err() error {
	code := m.ErrorCode
	if code == errors.Success {
		code = errors.HelperFailed
	}
	return errors.New(code).WithMessage(m.Description)
}

// SeccompRule applies one action to a set of syscalls.
type SeccompRule struct {
	Names  []string `json:"names" yaml:"names"`
	Action string   `json:"action" yaml:"action"`
}

// SeccompProfile is an operator-supplied syscall filter installed right
// before the command is executed.
type SeccompProfile struct {
	DefaultAction string        `json:"defaultAction" yaml:"defaultAction"`
	Syscalls      []SeccompRule `json:"syscalls" yaml:"syscalls"`
}

var seccompActions = map[string]bool{
	"SCMP_ACT_ALLOW":        true,
	"SCMP_ACT_KILL":         true,
	"SCMP_ACT_KILL_PROCESS": true,
	"SCMP_ACT_KILL_THREAD":  true,
	"SCMP_ACT_ERRNO":        true,
	"SCMP_ACT_TRAP":         true,
	"SCMP_ACT_LOG":          true,
}

// Validate checks action names and that every rule lists syscalls.
func (p *SeccompProfile) Validate() error {
	if !seccompActions[strings.ToUpper(p.DefaultAction)] {
		return fmt.Errorf("unsupported seccomp action: %q", p.DefaultAction)
	}
	for i, rule := range p.Syscalls {
		if !seccompActions[strings.ToUpper(rule.Action)] {
			return fmt.Errorf("syscalls[%d]: unsupported seccomp action: %q", i, rule.Action)
		}
		if len(rule.Names) == 0 {
			return fmt.Errorf("syscalls[%d]: names are required", i)
		}
	}
	return nil
}
