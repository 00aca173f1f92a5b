package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// errorBudget is the single monotonic counter of spec §3: reset to 0 on
// a successful MACROD round-trip, incremented on socket failure, fatal
// above MaxErrors consecutive failures (invariant I3).
type errorBudget struct {
	consecutive int32
	max         int32
}

func (b *errorBudget) reset()        { atomic.StoreInt32(&b.consecutive, 0) }
func (b *errorBudget) increment() int32 {
	return atomic.AddInt32(&b.consecutive, 1)
}
func (b *errorBudget) exhausted(n int32) bool { return n > b.max }

// macroSocket is the seam over FrameSocket so Runloop's passthrough and
// error-budget logic can be exercised without a real unix socket.
type macroSocket interface {
	Send(Action) error
	Recv() (Action, error)
	Close() error
}

// Runloop wires Device/Multiplexer/PassthroughSet/FrameSocket/VirtualOut
// into the pipeline described in spec §4.H, and runs the two FS reactor
// side loops alongside it (spec §5: three long-lived workers, each its
// own goroutine, all blocking on syscalls).
type Runloop struct {
	registry   *DeviceRegistry
	passthru   *PassthroughSet
	socket     macroSocket
	vout       *VirtualOut
	mux        Multiplexer
	cfg        *Config
	keysWatch  *FSWatch
	inputWatch *FSWatch
	budget     errorBudget

	done chan struct{}
}

func NewRunloop(registry *DeviceRegistry, passthru *PassthroughSet, socket macroSocket, vout *VirtualOut, cfg *Config, keysWatch, inputWatch *FSWatch) *Runloop {
	return &Runloop{
		registry:   registry,
		passthru:   passthru,
		socket:     socket,
		vout:       vout,
		cfg:        cfg,
		keysWatch:  keysWatch,
		inputWatch: inputWatch,
		budget:     errorBudget{max: int32(cfg.MaxErrors)},
		done:       make(chan struct{}),
	}
}

// Run starts the passthrough and hot-plug reactors and blocks running
// the main pipeline until a fatal socket-error budget exhaustion (the
// only thing permitted to kill the process, spec §7) or Stop is called.
//
// Shutdown is best-effort, not deterministic: the spec's own open
// question (§9) notes the source admits a race between setting a
// "stop" flag and a reactor blocked in a long read; KBDD keeps that same
// shape rather than inventing a stronger guarantee the original never
// had. A self-pipe/eventfd woven into the poll set would close this for
// a future revision.
func (r *Runloop) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.passthroughReactor()
	}()
	go func() {
		defer wg.Done()
		r.hotplugReactor()
	}()

	r.mainLoop()
	wg.Wait()
}

func (r *Runloop) Stop() {
	close(r.done)
}

func (r *Runloop) mainLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		snapshot := r.registry.Snapshot()
		if len(snapshot) == 0 {
			time.Sleep(r.cfg.PollTimeout)
			continue
		}

		idx, ok := r.mux.Poll(snapshot, r.cfg.PollTimeout)
		if !ok {
			continue
		}
		dev := snapshot[idx]

		ev, err := dev.Get()
		if err != nil {
			if IsDeviceReadError(err) {
				r.registry.Pull(dev)
				continue
			}
			warnf("device read error: %v", err)
			continue
		}

		// Discard events from a device that isn't LOCKED: closes the
		// race where a device transitions through un-grabbed state
		// during re-bind (spec §4.H step 4, property P3).
		if dev.GetState() != StateLocked {
			continue
		}

		if r.passthru.Contains(ev.Code) {
			if r.tryPassthrough(ev) {
				continue
			}
			// Fall through: the user's keystroke must still reach the
			// OS even though MACROD didn't successfully take it.
		}

		r.vout.Emit(ev)
		if err := r.vout.Flush(); err != nil {
			warnf("virtual keyboard emit failed: %v", err)
		}
	}
}

// tryPassthrough sends ev to MACROD and relays its reply burst to
// VirtualOut. Returns true on success (caller must not re-emit ev),
// false on SocketError (caller falls through to verbatim emission,
// property P5).
func (r *Runloop) tryPassthrough(ev KeyEvent) bool {
	dbg("sending to macro daemon: %s", ev.String())
	if err := r.socket.Send(Action{Ev: ev, Done: false}); err != nil {
		r.onSocketError(err)
		return false
	}

	n := 0
	for {
		resp, err := r.socket.Recv()
		if err != nil {
			r.onSocketError(err)
			return false
		}
		if resp.Done {
			break
		}
		dbg("replay from macro daemon: %s", resp.Ev.String())
		r.vout.Emit(resp.Ev)
		n++
	}

	if err := r.vout.Flush(); err != nil {
		warnf("virtual keyboard emit failed: %v", err)
	}
	dbg("passthrough round-trip for %s: %d replayed event(s)", ev.String(), n)
	r.budget.reset()
	return true
}

// onSocketError implements spec §7's SocketError policy: increment the
// budget; abort the process only once MaxErrors consecutive failures
// have accumulated (the only fatal condition outside of startup).
func (r *Runloop) onSocketError(err error) {
	n := r.budget.increment()
	warnf("socket error (%d/%d): %v", n, r.budget.max, err)
	if r.budget.exhausted(n) {
		_ = r.socket.Close()
		abortProcess("macro daemon unreachable after %d consecutive socket errors, aborting", n)
	}
}

// abortProcess is fatalf by default; overridden in tests so budget
// exhaustion can be observed without killing the test binary.
var abortProcess = fatalf

// passthroughReactor consumes the FSWatch stream for the keys directory
// and applies each event to PassthroughSet under its mutex (spec §4.H
// "Passthrough FS reactor").
func (r *Runloop) passthroughReactor() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.keysWatch.Events:
			if !ok {
				return
			}
			r.passthru.HandleFSEvent(ev)
		case err, ok := <-r.keysWatch.Errors:
			if !ok {
				return
			}
			warnf("%v", &FSWatchError{Err: err})
		}
	}
}

// hotplugReactor consumes the FSWatch stream for /dev/input/ and
// performs hot-plug re-bind per spec §4.F ("Input FS reactor").
func (r *Runloop) hotplugReactor() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.inputWatch.Events:
			if !ok {
				return
			}
			r.registry.HandleHotplugEvent(ev)
		case err, ok := <-r.inputWatch.Errors:
			if !ok {
				return
			}
			warnf("%v", &FSWatchError{Err: err})
		}
	}
}
