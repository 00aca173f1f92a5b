package main

import "fmt"

// KeyEvent is a single keyboard event read from a grabbed device.
//
// Value follows kernel convention: 0=release, 1=press, 2=repeat.
type KeyEvent struct {
	Sec   int64
	Usec  int64
	Code  uint16
	Value int32
}

func (ke KeyEvent) String() string {
	return fmt.Sprintf("code=%d value=%d", ke.Code, ke.Value)
}

// Action is the wire unit exchanged with MACROD. Done terminates a
// response burst from MACROD (zero or more Actions followed by one with
// Done=true).
type Action struct {
	Ev   KeyEvent
	Done bool
}
