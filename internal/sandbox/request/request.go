// Package request defines the job description accepted by the sandbox and
// the closed schema it is validated against.
package request

import "strconv"

// Unlimited marks an absent byte limit.
const Unlimited int64 = -1

// DefaultIdentity is the hostname and domainname used when the request sets none.
const DefaultIdentity = "sandbox"

// MountKind selects how a mount entry is applied.
type MountKind int

const (
	MountTmpfs MountKind = iota + 1
	MountProc
	MountBind
)

func (k MountKind) String() string {
	switch k {
	case MountTmpfs:
		return "tmpfs"
	case MountProc:
		return "proc"
	case MountBind:
		return "bind"
	default:
		return "MountKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Mount is one entry of the mount table, applied in request order.
type Mount struct {
	Kind     MountKind
	Dest     string
	Src      string
	Options  string
	ReadOnly bool
}

// Sink is a caller-visible destination: either a path or an inherited descriptor.
type Sink struct {
	Path string
	FD   int
}

// IsFD reports whether the sink names an inherited descriptor.
func (s Sink) IsFD() bool {
	return s.Path == ""
}

func (s Sink) String() string {
	if s.IsFD() {
		return "fd " + strconv.Itoa(s.FD)
	}
	return s.Path
}

// PipeKind distinguishes plain stream pipes from FIFO-backed ones.
type PipeKind int

const (
	// PipeStream carries only the command's stdout and/or stderr.
	PipeStream PipeKind = iota + 1
	// PipeFIFO is a named FIFO created inside the sandbox.
	PipeFIFO
)

// Pipe is a live conduit drained while the command runs.
type Pipe struct {
	Kind   PipeKind
	Dest   Sink
	FIFO   string
	Stdout bool
	Stderr bool
	Limit  int64
}

// CopyFile is a file copied out of the sandbox once the command has terminated.
type CopyFile struct {
	Dest   Sink
	Src    string
	Stdout bool
	Stderr bool
	Limit  int64
}

// Request is a fully validated job description.
type Request struct {
	Cmd         []string
	Env         []string
	WorkDir     string
	UID         int
	GID         int
	HostName    string
	DomainName  string
	Chroot      string
	VARandomize bool
	Mounts      []Mount
	Pipes       []Pipe
	CopyFiles   []CopyFile

	// Optional limits; nil means unlimited.
	TimeLimit   *float64
	MemoryLimit *int64
	PidsLimit   *int64
}
