package main

import (
	"net"
	"testing"
	"time"
)

func TestFrameSocketSendRecvRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fc := &FrameSocket{conn: client, recvTimeout: time.Second}
	fs := &FrameSocket{conn: server, recvTimeout: time.Second}

	want := Action{Ev: KeyEvent{Sec: 1, Usec: 2, Code: 30, Value: 1}, Done: false}

	done := make(chan error, 1)
	go func() { done <- fc.Send(want) }()

	got, err := fs.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}

	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFrameSocketRecvTimesOutOnWedgedPeer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fs := &FrameSocket{conn: server, recvTimeout: 10 * time.Millisecond}

	_, err := fs.Recv()
	if err == nil {
		t.Fatal("expected a timeout error when nothing is ever sent")
	}
}

func TestFrameSocketDoneSentinel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fc := &FrameSocket{conn: client, recvTimeout: time.Second}
	fs := &FrameSocket{conn: server, recvTimeout: time.Second}

	go fc.Send(Action{Done: true})

	got, err := fs.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !got.Done {
		t.Fatal("expected Done=true to round-trip")
	}
}
