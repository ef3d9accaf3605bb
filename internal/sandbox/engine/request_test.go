package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"os/exec"
	"testing"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/spec"

	"github.com/google/go-cmp/cmp"
)

func TestBuildInitRequest(t *testing.T) {
	rs := spec.RunSpec{
		Cmd:        []string{"cat"},
		WorkDir:    "/",
		HostName:   "sandbox",
		DomainName: "sandbox",
		Mounts:     []spec.MountSpec{{Kind: request.MountProc, Target: "/proc"}},
		Pipes: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{FD: 1}, Stdout: true, MaxBytes: request.Unlimited},
			{Index: 1, Sink: request.Sink{Path: "/tmp/f", FD: -1}, FIFO: "/tmp/@canary", MaxBytes: 5},
		},
		CopyFiles: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{Path: "/tmp/c", FD: -1}, Src: "/tmp/o", Stderr: true, MaxBytes: request.Unlimited},
		},
	}
	profile := &control.SeccompProfile{DefaultAction: "SCMP_ACT_ALLOW"}

	got := buildInitRequest(rs, profile)
	want := control.InitRequest{
		Cmd:        []string{"cat"},
		Env:        []string{},
		WorkDir:    "/",
		HostName:   "sandbox",
		DomainName: "sandbox",
		Mounts:     []spec.MountSpec{{Kind: request.MountProc, Target: "/proc"}},
		FIFOs:      []control.Stream{{Index: 1, Path: "/tmp/@canary"}},
		CopyFiles:  []control.Stream{{Index: 0, Path: "/tmp/o", Stderr: true}},
		StdoutFD:   control.NoFD,
		StderrFD:   control.NoFD,
		CgroupFD:   control.NoFD,
		Seccomp:    profile,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("init request mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONToPipe(t *testing.T) {
	req := control.InitRequest{Cmd: []string{"true"}, Env: []string{}, StdoutFD: 4, StderrFD: control.NoFD, CgroupFD: control.NoFD}
	r := jsonToPipe(req)
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got control.InitRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("decoded mismatch (-want +got):\n%s", diff)
	}
}

// The request pipe stays open until the child is reaped; exec feeds it to
// the child in the background.
func TestJSONToPipeOutlivesStart(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	req := control.InitRequest{Cmd: []string{"true"}, Env: []string{}, StdoutFD: control.NoFD, StderrFD: control.NoFD, CgroupFD: control.NoFD}
	stdin := jsonToPipe(req)
	var out bytes.Buffer
	cmd := exec.Command("cat")
	cmd.Stdin = stdin
	cmd.Stdout = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	_ = stdin.Close()

	var got control.InitRequest
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("child read %q: %v", out.String(), err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("decoded mismatch (-want +got):\n%s", diff)
	}
}
