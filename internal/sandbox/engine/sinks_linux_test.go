//go:build linux

package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"
)

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out")
	if err := os.WriteFile(outPath, []byte("stale contents"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	rs := spec.RunSpec{
		Pipes: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{Path: outPath, FD: -1}, Stdout: true},
			{Index: 1, Sink: request.Sink{FD: int(w.Fd())}, FIFO: "/tmp/f"},
		},
		CopyFiles: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{Path: filepath.Join(dir, "copy"), FD: -1}, Src: "/o"},
		},
	}
	set, err := openSinks(rs)
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	defer set.Close()

	if got := set.pipe(1).name; got != "pipes[1]" {
		t.Fatalf("name = %q", got)
	}
	if set.pipe(2) != nil || set.copy(-1) != nil {
		t.Fatal("out of range lookups should return nil")
	}
	if data, _ := os.ReadFile(outPath); len(data) != 0 {
		t.Fatalf("path sink not truncated: %q", data)
	}
	if _, err := set.pipe(1).sink.Write([]byte("z")); err != nil {
		t.Fatalf("write fd sink: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil || buf[0] != 'z' {
		t.Fatalf("read = %q, %v", buf, err)
	}
}

func TestOpenSinksFailure(t *testing.T) {
	rs := spec.RunSpec{
		Pipes: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{Path: filepath.Join(t.TempDir(), "ok"), FD: -1}, Stdout: true},
		},
		CopyFiles: []spec.StreamSpec{
			{Index: 0, Sink: request.Sink{Path: "/nonexistent-dir/x", FD: -1}, Src: "/o"},
		},
	}
	_, err := openSinks(rs)
	if !errors.Is(err, errors.SinkOpenFailed) {
		t.Fatalf("err = %v, want SinkOpenFailed", err)
	}
	if got := err.Error(); !strings.HasPrefix(got, "copyFiles[0].dest: ") {
		t.Fatalf("message = %q", got)
	}
}
