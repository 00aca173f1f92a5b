package main

import (
	"errors"
	"fmt"
	"sync"

	evdev "github.com/gvalkov/golang-evdev"
)

// DeviceErrorKind distinguishes the failure modes §7 of the spec assigns
// distinct policies to.
type DeviceErrorKind int

const (
	DeviceErrOpen DeviceErrorKind = iota
	DeviceErrGrab
	DeviceErrRead
)

// DeviceError is returned by Device operations; Kind selects the caller's
// recovery policy (never inspect the wrapped error's string).
type DeviceError struct {
	Kind DeviceErrorKind
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DeviceState is the state machine from spec §4.A:
//
//	INITIAL --lock()--> LOCKED --read err--> DISABLED --reset+lock--> LOCKED
type DeviceState int

const (
	StateInitial DeviceState = iota
	StateLocked
	StateDisabled
)

// rawDevice is the seam between Device and the kernel evdev binding,
// mirroring the interface-wrapper pattern used for testing raw evdev
// access elsewhere in the retrieval pack (adumbdinosaur-vex-cli's
// RealInputDevice): Device is exercised in tests against a fake, never
// against a real /dev/input node.
type rawDevice interface {
	Grab() error
	Release() error
	ReadOne() (*evdev.InputEvent, error)
	Close() error
	Fd() uintptr
	Identity() string
}

// openRawDevice is overridden in tests.
var openRawDevice = func(path string) (rawDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &evdevRawDevice{dev: dev}, nil
}

// evdevRawDevice adapts *evdev.InputDevice to rawDevice.
type evdevRawDevice struct {
	dev *evdev.InputDevice
}

func (r *evdevRawDevice) Grab() error    { return r.dev.Grab() }
func (r *evdevRawDevice) Release() error { return r.dev.Release() }
func (r *evdevRawDevice) Close() error    { return r.dev.File.Close() }
func (r *evdevRawDevice) Fd() uintptr     { return r.dev.File.Fd() }
func (r *evdevRawDevice) ReadOne() (*evdev.InputEvent, error) {
	return r.dev.ReadOne()
}

// Identity is the stable vendor/product/name fingerprint used by IsMe.
func (r *evdevRawDevice) Identity() string {
	return fmt.Sprintf("%04x:%04x:%s", r.dev.Vendor, r.dev.Product, r.dev.Name)
}

// Device is one exclusively-grabbed keyboard. Ownership is exclusive to
// whichever DeviceRegistry bucket currently holds it (spec §3).
type Device struct {
	mu          sync.Mutex
	fingerprint string
	path        string
	raw         rawDevice
	state       DeviceState
}

// OpenDevice opens path read-only, non-blocking, and records the
// device's identity fingerprint for later IsMe comparisons. It does not
// grab the device; call Lock for that.
func OpenDevice(path string) (*Device, error) {
	raw, err := openRawDevice(path)
	if err != nil {
		return nil, &DeviceError{Kind: DeviceErrOpen, Path: path, Err: err}
	}
	return &Device{
		fingerprint: raw.Identity(),
		path:        path,
		raw:         raw,
		state:       StateInitial,
	}, nil
}

// Lock requests an exclusive grab. Idempotent: calling it while already
// LOCKED is a no-op success.
func (d *Device) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateLocked {
		return nil
	}
	if err := d.raw.Grab(); err != nil {
		return &DeviceError{Kind: DeviceErrGrab, Path: d.path, Err: err}
	}
	d.state = StateLocked
	return nil
}

// Get blocks for the next key event. Non-EV_KEY events are discarded
// internally; a kernel read failure (ENODEV/EIO) surfaces as
// DeviceErrRead and signals device disappearance to the caller.
func (d *Device) Get() (KeyEvent, error) {
	for {
		ev, err := d.raw.ReadOne()
		if err != nil {
			return KeyEvent{}, &DeviceError{Kind: DeviceErrRead, Path: d.path, Err: err}
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		return KeyEvent{
			Sec:   int64(ev.Time.Sec),
			Usec:  int64(ev.Time.Usec),
			Code:  ev.Code,
			Value: ev.Value,
		}, nil
	}
}

// Reset atomically closes the old fd and opens newPath, preserving
// identity. Used on hot-plug re-bind; the caller is expected to Lock()
// again afterward.
func (d *Device) Reset(newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := openRawDevice(newPath)
	if err != nil {
		return &DeviceError{Kind: DeviceErrOpen, Path: newPath, Err: err}
	}

	_ = d.raw.Close()
	d.raw = raw
	d.path = newPath
	d.state = StateInitial
	return nil
}

// IsMe opens path (a candidate hot-plugged device, not d itself), reads
// its identity, and compares it to d's fingerprint. The temporary handle
// is closed on every exit path, including error returns.
func (d *Device) IsMe(path string) bool {
	raw, err := openRawDevice(path)
	if err != nil {
		return false
	}
	defer raw.Close()
	return raw.Identity() == d.fingerprint
}

func (d *Device) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateDisabled
}

func (d *Device) IsDisabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateDisabled
}

func (d *Device) GetState() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *Device) Fd() uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw.Fd()
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw.Close()
}

// IsDeviceReadError reports whether err is a DeviceError signaling a
// kernel read failure (device disappearance), as opposed to an open or
// grab failure.
func IsDeviceReadError(err error) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind == DeviceErrRead
	}
	return false
}
