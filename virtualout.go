package main

import (
	"fmt"
	"sync"

	"github.com/bendahl/uinput"
)

// vkbd is the seam over uinput.Keyboard so VirtualOut can be tested
// without a real /dev/uinput node.
type vkbd interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

// VirtualOut is the buffered re-emission sink of spec §4.B: Emit queues
// one synthetic event, Flush commits all queued events and clears the
// queue. The teacher (andresousadotpt-texpand) calls uinput key methods
// synchronously per keystroke; KBDD adds the queue/flush boundary the
// spec requires so a passthrough round-trip's whole reply burst lands
// atomically.
type VirtualOut struct {
	mu     sync.Mutex
	dev    vkbd
	queued []KeyEvent
}

// NewVirtualOut creates the synthetic keyboard device. It must publish
// every code that might ever be asked to emit, so it registers the
// entire keyboard key range rather than only configured passthrough
// codes (spec §6).
func NewVirtualOut(name string) (*VirtualOut, error) {
	kbd, err := uinput.CreateKeyboard("/dev/uinput", []byte(name))
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &VirtualOut{dev: kbd}, nil
}

// Emit queues ev for the next Flush. Value follows kernel convention:
// 1=press becomes KeyDown, 0=release becomes KeyUp. Value==2 (repeat) is
// not re-sent; the kernel's own key-repeat mechanism already handles
// repeats for a key that is held down.
func (v *VirtualOut) Emit(ev KeyEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queued = append(v.queued, ev)
}

// Flush commits all queued events to the virtual device in order and
// clears the queue.
func (v *VirtualOut) Flush() error {
	v.mu.Lock()
	pending := v.queued
	v.queued = nil
	v.mu.Unlock()

	for _, ev := range pending {
		var err error
		switch ev.Value {
		case 1:
			err = v.dev.KeyDown(int(ev.Code))
		case 0:
			err = v.dev.KeyUp(int(ev.Code))
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("emit key %d: %w", ev.Code, err)
		}
	}
	return nil
}

func (v *VirtualOut) Close() error {
	return v.dev.Close()
}
