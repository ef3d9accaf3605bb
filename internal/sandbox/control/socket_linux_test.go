//go:build linux

package control

import (
	"errors"
	"io"
	"os"
	"testing"

	pkgerrors "nsbox/pkg/errors"
)

func TestSendReceiveWithDescriptor(t *testing.T) {
	parent, child, err := SocketPair()
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer child.Close()
	recv, err := NewReceiver(parent)
	if err != nil {
		t.Fatalf("receiver: %v", err)
	}
	defer recv.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()

	if err := Send(int(child.Fd()), Message{Kind: KindPipe, Index: 2}, int(r.Fd())); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = r.Close()

	msg, f, err := recv.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Kind != KindPipe || msg.Index != 2 {
		t.Fatalf("message = %+v", msg)
	}
	if f == nil {
		t.Fatal("expected a descriptor")
	}
	defer f.Close()

	if _, err := w.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read passed fd: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("read %q, want ping", data)
	}
}

func TestReceiveOrderAndEOF(t *testing.T) {
	parent, child, err := SocketPair()
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	recv, err := NewReceiver(parent)
	if err != nil {
		t.Fatalf("receiver: %v", err)
	}
	defer recv.Close()

	sent := []Message{
		{Kind: KindStarted, Pid: 2},
		{Kind: KindExit, Signaled: true, Signal: 15},
	}
	for _, m := range sent {
		if err := Send(int(child.Fd()), m, NoFD); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	_ = child.Close()

	for _, want := range sent {
		got, f, err := recv.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if f != nil {
			t.Fatal("unexpected descriptor")
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
	if _, _, err := recv.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestFailureRoundTrip(t *testing.T) {
	orig := pkgerrors.Newf(pkgerrors.MountFailed, "mounts[1]: no such file or directory")
	msg := Failure(orig)
	if msg.Kind != KindFail {
		t.Fatalf("kind = %s", msg.Kind)
	}
	err := msg.Err()
	if !pkgerrors.Is(err, pkgerrors.MountFailed) {
		t.Fatalf("code = %v, want MountFailed", pkgerrors.GetCode(err))
	}
	if err.Error() != orig.Error() {
		t.Fatalf("message = %q, want %q", err.Error(), orig.Error())
	}

	bare := Message{Kind: KindFail, Description: "boom"}
	if !pkgerrors.Is(bare.Err(), pkgerrors.HelperFailed) {
		t.Fatal("fail message without code should map to HelperFailed")
	}
}
