//go:build linux

package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

const maxMessageSize = 64 * 1024

// SocketPair returns a connected SOCK_SEQPACKET pair: the first end stays in
// the supervisor, the second is inherited by the helper.
func SocketPair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("create control socket: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "control"), os.NewFile(uintptr(fds[1]), "control-child"), nil
}

// Send writes msg on the socket fd, attaching fd when it is not NoFD.
func Send(sock int, msg Message, fd int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var oob []byte
	if fd != NoFD {
		oob = unix.UnixRights(fd)
	}
	for {
		err = unix.Sendmsg(sock, data, oob, nil, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("send %s message: %w", msg.Kind, err)
	}
	return nil
}

// Receiver reads messages on the supervisor end of the control socket.
type Receiver struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte
}

// NewReceiver takes ownership of f.
func NewReceiver(f *os.File) (*Receiver, error) {
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap control socket: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("control socket is %T, not a unix socket", conn)
	}
	return &Receiver{
		conn: uc,
		buf:  make([]byte, maxMessageSize),
		oob:  make([]byte, unix.CmsgSpace(4*4)),
	}, nil
}

// Receive returns the next message and the descriptor attached to it, if
// any. It returns io.EOF once the helper side is closed.
func (r *Receiver) Receive() (Message, *os.File, error) {
	n, oobn, _, _, err := r.conn.ReadMsgUnix(r.buf, r.oob)
	if err != nil {
		return Message{}, nil, err
	}
	if n == 0 && oobn == 0 {
		return Message{}, nil, io.EOF
	}
	files, err := parseRights(r.oob[:oobn])
	if err != nil {
		return Message{}, nil, err
	}
	var msg Message
	if err := json.Unmarshal(r.buf[:n], &msg); err != nil {
		closeAll(files)
		return Message{}, nil, fmt.Errorf("decode control message: %w", err)
	}
	switch len(files) {
	case 0:
		return msg, nil, nil
	case 1:
		return msg, files[0], nil
	default:
		closeAll(files)
		return Message{}, nil, fmt.Errorf("%s message carried %d descriptors", msg.Kind, len(files))
	}
}

// Close releases the socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

func parseRights(oob []byte) ([]*os.File, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control data: %w", err)
	}
	var files []*os.File
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			files = append(files, os.NewFile(uintptr(fd), fmt.Sprintf("passed fd %d", fd)))
		}
	}
	return files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
