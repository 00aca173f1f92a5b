package main

import (
	"time"

	"golang.org/x/sys/unix"
)

// Multiplexer performs a readiness wait across a snapshot of device fds
// (spec §4.G). A required timeout lets Runloop periodically observe
// hot-plug/shutdown state even when nothing is ready.
type Multiplexer struct{}

// Poll returns the index of the lowest-indexed ready device in devices,
// or ok=false on timeout. Fairness: when multiple fds are ready in one
// call, the lowest index always wins, since unix.Poll preserves the
// caller's fd ordering and this function scans it front to back.
func (Multiplexer) Poll(devices []*Device, timeout time.Duration) (int, bool) {
	if len(devices) == 0 {
		time.Sleep(timeout)
		return 0, false
	}

	fds := make([]unix.PollFd, len(devices))
	for i, d := range devices {
		fds[i] = unix.PollFd{Fd: int32(d.Fd()), Events: unix.POLLIN}
	}

	ms := int(timeout.Milliseconds())
	n, err := unix.Poll(fds, ms)
	if err != nil || n == 0 {
		return 0, false
	}

	for i, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return i, true
		}
	}
	return 0, false
}
