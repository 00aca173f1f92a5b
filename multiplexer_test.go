package main

import (
	"os"
	"testing"
	"time"
)

func deviceFromPipeFd(fd uintptr) *Device {
	return &Device{raw: &fakeRawDevice{identity: "pipe", fd: fd}, state: StateLocked}
}

func TestMultiplexerPollReturnsReadyIndex(t *testing.T) {
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r1.Close()
	defer w1.Close()
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r2.Close()
	defer w2.Close()

	devices := []*Device{deviceFromPipeFd(r1.Fd()), deviceFromPipeFd(r2.Fd())}

	if _, err := w2.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var mux Multiplexer
	idx, ok := mux.Poll(devices, 200*time.Millisecond)
	if !ok {
		t.Fatal("expected a ready device")
	}
	if idx != 1 {
		t.Fatalf("expected index 1 ready, got %d", idx)
	}
}

func TestMultiplexerPollTimesOutWhenNothingReady(t *testing.T) {
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r1.Close()
	defer w1.Close()

	devices := []*Device{deviceFromPipeFd(r1.Fd())}

	var mux Multiplexer
	_, ok := mux.Poll(devices, 50*time.Millisecond)
	if ok {
		t.Fatal("expected timeout with no data written")
	}
}

func TestMultiplexerPollLowestIndexWinsOnTie(t *testing.T) {
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r1.Close()
	defer w1.Close()
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r2.Close()
	defer w2.Close()

	devices := []*Device{deviceFromPipeFd(r1.Fd()), deviceFromPipeFd(r2.Fd())}

	w1.Write([]byte("a"))
	w2.Write([]byte("b"))

	var mux Multiplexer
	idx, ok := mux.Poll(devices, 200*time.Millisecond)
	if !ok {
		t.Fatal("expected a ready device")
	}
	if idx != 0 {
		t.Fatalf("expected lowest index 0 to win, got %d", idx)
	}
}
