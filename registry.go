package main

import (
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"
)

// DeviceRegistry tracks every managed Device in exactly one of two
// disjoint buckets, `available` and `pulled` (invariant I2, spec
// §3/§4.F). A device's DISABLED state (spec §4.A) always coincides with
// membership in `pulled` — the only documented transition into DISABLED
// is "read error: move available -> pulled, mark DISABLED" (spec §4.F
// "Device removal") — so `pulled` already carries the bucket-level
// information a separate `disabled` map would; see DESIGN.md. Both
// buckets share one mutex; callers snapshot `available` before doing I/O
// so the lock is never held across a blocking read.
type DeviceRegistry struct {
	mu        sync.Mutex
	available map[*Device]struct{}
	pulled    map[*Device]struct{}

	cfg *Config
}

func NewDeviceRegistry(cfg *Config) *DeviceRegistry {
	return &DeviceRegistry{
		available: make(map[*Device]struct{}),
		pulled:    make(map[*Device]struct{}),
		cfg:       cfg,
	}
}

// AddAvailable places a freshly grabbed device into `available`. Used at
// startup population (spec §4.F).
func (r *DeviceRegistry) AddAvailable(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[d] = struct{}{}
}

// Snapshot returns the current `available` devices as a stable-ordered
// slice, read-copied under the lock so Multiplexer/Runloop never hold it
// during I/O (spec §4.F).
func (r *DeviceRegistry) Snapshot() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.available))
	for d := range r.available {
		out = append(out, d)
	}
	return out
}

// Pull moves d from `available` to `pulled` and marks it DISABLED,
// driven by Runloop on DeviceErrRead (spec §4.F "Device removal").
func (r *DeviceRegistry) Pull(d *Device) {
	d.Disable()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.available, d)
	r.pulled[d] = struct{}{}
}

// rebind moves d from `pulled` to `available` after a successful
// hot-plug reset+lock.
func (r *DeviceRegistry) rebind(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pulled, d)
	r.available[d] = struct{}{}
}

// pulledSnapshot returns the current `pulled` devices.
func (r *DeviceRegistry) pulledSnapshot() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.pulled))
	for d := range r.pulled {
		out = append(out, d)
	}
	return out
}

// HandleHotplugEvent implements spec §4.F's dev-input reactor body for a
// single FSEvent on /dev/input/: ignore non-character-device paths, wait
// for the kernel to settle ownership/permissions, then offer the path to
// every pulled device's IsMe until one claims it.
func (r *DeviceRegistry) HandleHotplugEvent(ev FSEvent) {
	if ev.Stat == nil {
		return
	}
	if ev.Stat.Mode()&os.ModeCharDevice == 0 {
		return
	}

	dbg("hot-plug candidate: %s", ev.Path)

	if !r.awaitInputGroupPerms(ev.Path) {
		warnf("hot-plug %s: permissions never settled, skipping", ev.Path)
		return
	}

	for _, d := range r.pulledSnapshot() {
		if !d.IsMe(ev.Path) {
			continue
		}
		dbg("hot-plug %s matches pulled device %s", ev.Path, d.Path())
		if err := d.Reset(ev.Path); err != nil {
			warnf("hot-plug rebind %s: reset failed: %v", ev.Path, err)
			return
		}
		if err := d.Lock(); err != nil {
			warnf("hot-plug rebind %s: lock failed: %v", ev.Path, err)
			return
		}
		r.rebind(d)
		logf("hot-plug: re-bound %s", ev.Path)
		return
	}
}

// awaitInputGroupPerms busy-waits in ~100us increments (cap 5s, both
// configurable) for a newly created /dev/input/eventN node to settle
// from its transient root:root 0600 creation state to group `input`
// with group r/w bits set (spec §4.F step 2).
func (r *DeviceRegistry) awaitInputGroupPerms(path string) bool {
	inputGid, ok := lookupInputGroupGidFn()
	if !ok {
		return false
	}

	deadline := time.Now().Add(r.cfg.HotplugPermCap)
	for time.Now().Before(deadline) {
		fi, err := os.Stat(path)
		if err == nil {
			_, gid, ok := statUidGid(fi)
			if ok && gid == inputGid && fi.Mode().Perm()&0060 == 0060 {
				return true
			}
		}
		time.Sleep(r.cfg.HotplugPermSleep)
	}
	return false
}

// lookupInputGroupGidFn is overridden in tests.
var lookupInputGroupGidFn = lookupInputGroupGid

// lookupInputGroupGid resolves the "input" group's gid once per call;
// a lookup failure means permission settling can never be confirmed.
func lookupInputGroupGid() (uint32, bool) {
	g, err := user.LookupGroup("input")
	if err != nil {
		return 0, false
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(gid), true
}
