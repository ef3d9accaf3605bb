// Package spec defines the sandbox plan and the resource limits enforced on it.
package spec

import (
	"math"
	"time"

	"nsbox/internal/sandbox/request"
)

// MinDeadline stands in for a zero time limit so the timer still fires.
const MinDeadline = time.Nanosecond

// ResourceLimit describes hard limits enforced by the supervisor.
type ResourceLimit struct {
	// Deadline is measured from the moment the sandbox is spawned; zero means none.
	Deadline    time.Duration
	MemoryBytes int64
	PIDs        int64
}

// HasDeadline reports whether a time limit is set.
func (l ResourceLimit) HasDeadline() bool {
	return l.Deadline > 0
}

// NeedsCgroup reports whether enforcement requires a dedicated cgroup.
func (l ResourceLimit) NeedsCgroup() bool {
	return l.MemoryBytes > 0 || l.PIDs > 0
}

// MountSpec describes one mount applied inside the sandbox.
type MountSpec struct {
	Kind     request.MountKind `json:"kind"`
	Source   string            `json:"source,omitempty"`
	Target   string            `json:"target"`
	Options  string            `json:"options,omitempty"`
	ReadOnly bool              `json:"readOnly,omitempty"`
}

// StreamSpec is one pipe or copy-file entry with its byte ceiling.
type StreamSpec struct {
	Index  int
	Sink   request.Sink
	FIFO   string
	Src    string
	Stdout bool
	Stderr bool
	// MaxBytes is request.Unlimited when no limit was requested.
	MaxBytes int64
}

// Limited reports whether the stream has a byte ceiling.
func (s StreamSpec) Limited() bool {
	return s.MaxBytes >= 0
}

// RunSpec is the unified execution plan for one job.
type RunSpec struct {
	Cmd         []string
	Env         []string
	WorkDir     string
	UID         int
	GID         int
	HostName    string
	DomainName  string
	Chroot      string
	VARandomize bool
	Mounts      []MountSpec
	Pipes       []StreamSpec
	CopyFiles   []StreamSpec
	Limits      ResourceLimit
}

// Build translates a validated request into a run plan. It performs no
// enforcement and has no side effects.
func Build(req request.Request) RunSpec {
	rs := RunSpec{
		Cmd:         append([]string(nil), req.Cmd...),
		Env:         append([]string(nil), req.Env...),
		WorkDir:     req.WorkDir,
		UID:         req.UID,
		GID:         req.GID,
		HostName:    req.HostName,
		DomainName:  req.DomainName,
		Chroot:      req.Chroot,
		VARandomize: req.VARandomize,
		Limits:      BuildLimits(req),
	}
	for _, m := range req.Mounts {
		rs.Mounts = append(rs.Mounts, MountSpec{
			Kind:     m.Kind,
			Source:   m.Src,
			Target:   m.Dest,
			Options:  m.Options,
			ReadOnly: m.ReadOnly,
		})
	}
	for i, p := range req.Pipes {
		s := StreamSpec{
			Index:    i,
			Sink:     p.Dest,
			Stdout:   p.Stdout,
			Stderr:   p.Stderr,
			MaxBytes: p.Limit,
		}
		if p.Kind == request.PipeFIFO {
			s.FIFO = p.FIFO
		}
		rs.Pipes = append(rs.Pipes, s)
	}
	for i, c := range req.CopyFiles {
		rs.CopyFiles = append(rs.CopyFiles, StreamSpec{
			Index:    i,
			Sink:     c.Dest,
			Src:      c.Src,
			Stdout:   c.Stdout,
			Stderr:   c.Stderr,
			MaxBytes: c.Limit,
		})
	}
	return rs
}

// BuildLimits converts the request's limit fields into enforcement inputs.
func BuildLimits(req request.Request) ResourceLimit {
	var l ResourceLimit
	if req.TimeLimit != nil {
		l.Deadline = secondsToDuration(*req.TimeLimit)
	}
	if req.MemoryLimit != nil {
		l.MemoryBytes = *req.MemoryLimit
	}
	if req.PidsLimit != nil {
		l.PIDs = *req.PidsLimit
	}
	return l
}

func secondsToDuration(sec float64) time.Duration {
	if sec*float64(time.Second) >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(sec * float64(time.Second))
	if d < MinDeadline {
		return MinDeadline
	}
	return d
}
