package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// SocketError is returned by FrameSocket on connection loss, short
// read/write, or a decode mismatch (spec §4.C, §7).
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string { return fmt.Sprintf("frame socket %s: %v", e.Op, e.Err) }
func (e *SocketError) Unwrap() error  { return e.Err }

// wireAction is the fixed-size, native-endian on-wire representation of
// an Action (spec §6, §9 — the source leaves the exact layout as a local
// design choice since both endpoints of the socket live in this repo).
// Size: 8+8+2+4+1+1 = 24 bytes.
type wireAction struct {
	Sec   int64
	Usec  int64
	Code  uint16
	Value int32
	Done  uint8
	_     uint8
}

const wireActionSize = 24

// FrameSocket is a connected unix-domain socket to MACROD exchanging
// fixed-size Action records (spec §4.C). It is single-owner, used only
// by Runloop, and is not reconnect-capable within one pipeline
// iteration: failure bubbles to the caller's error budget (spec §5).
type FrameSocket struct {
	conn        net.Conn
	recvTimeout time.Duration
}

// DialFrameSocket connects to the well-known MACROD socket path.
func DialFrameSocket(path string, recvTimeout time.Duration) (*FrameSocket, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, &SocketError{Op: "dial", Err: err}
	}
	return &FrameSocket{conn: conn, recvTimeout: recvTimeout}, nil
}

// Send writes one Action record.
func (f *FrameSocket) Send(a Action) error {
	w := toWire(a)
	if err := binary.Write(f.conn, binary.NativeEndian, &w); err != nil {
		return &SocketError{Op: "send", Err: err}
	}
	return nil
}

// Recv reads one Action record, bounded by recvTimeout so a wedged
// MACROD cannot stall all keystrokes indefinitely (spec §9).
func (f *FrameSocket) Recv() (Action, error) {
	if f.recvTimeout > 0 {
		if err := f.conn.SetReadDeadline(time.Now().Add(f.recvTimeout)); err != nil {
			return Action{}, &SocketError{Op: "set-deadline", Err: err}
		}
	}

	var w wireAction
	if err := binary.Read(f.conn, binary.NativeEndian, &w); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Action{}, &SocketError{Op: "recv", Err: err}
		}
		return Action{}, &SocketError{Op: "recv", Err: err}
	}
	return fromWire(w), nil
}

// Close closes the underlying connection, signaling MACROD to
// terminate.
func (f *FrameSocket) Close() error {
	return f.conn.Close()
}

func toWire(a Action) wireAction {
	var done uint8
	if a.Done {
		done = 1
	}
	return wireAction{
		Sec:   a.Ev.Sec,
		Usec:  a.Ev.Usec,
		Code:  a.Ev.Code,
		Value: a.Ev.Value,
		Done:  done,
	}
}

func fromWire(w wireAction) Action {
	return Action{
		Ev: KeyEvent{
			Sec:   w.Sec,
			Usec:  w.Usec,
			Code:  w.Code,
			Value: w.Value,
		},
		Done: w.Done != 0,
	}
}
