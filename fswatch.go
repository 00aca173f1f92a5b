package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// FSWatchError wraps a failure from the underlying watcher stream (spec
// §7): logged, non-fatal, degrades to "missing hot-reload" rather than
// losing input.
type FSWatchError struct {
	Err error
}

func (e *FSWatchError) Error() string { return fmt.Sprintf("fswatch: %v", e.Err) }
func (e *FSWatchError) Unwrap() error  { return e.Err }

// FSEvent mirrors the external collaborator spec.md §1 specifies: a
// path, an inotify-style mask, a stat of the file, and a flag marking
// events synthesized by AddFrom at startup (original_source's
// FSWatcher.hpp FSEvent, ported from its path/mask/stbuf/added shape).
type FSEvent struct {
	Path  string
	Mask  uint32
	Stat  os.FileInfo
	Added bool
}

const (
	MaskCreate     uint32 = 1 << iota // IN_CREATE
	MaskModify                        // IN_MODIFY
	MaskDeleteSelf                    // IN_DELETE_SELF
)

// FSWatch is a thin subscription layer over fsnotify used for both the
// passthrough keys directory and /dev/input/ (spec §4.D). It is the one
// component the spec explicitly treats as an external collaborator; this
// file is the inotify binding, fsnotify itself is the policy-free layer
// spec.md describes.
type FSWatch struct {
	watcher *fsnotify.Watcher
	Events  chan FSEvent
	Errors  chan error
}

// NewFSWatch starts the underlying fsnotify watcher.
func NewFSWatch() (*FSWatch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &FSWatchError{Err: err}
	}
	fw := &FSWatch{
		watcher: w,
		Events:  make(chan FSEvent, 32),
		Errors:  make(chan error, 8),
	}
	go fw.pump()
	return fw, nil
}

// pump translates raw fsnotify events into FSEvents, attaching a stat()
// of the file (spec requires the stat in every FSEvent).
func (fw *FSWatch) pump() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.Events <- fw.toFSEvent(ev)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.Errors <- err
		}
	}
}

func (fw *FSWatch) toFSEvent(ev fsnotify.Event) FSEvent {
	var mask uint32
	if ev.Has(fsnotify.Create) {
		mask |= MaskCreate
	}
	if ev.Has(fsnotify.Write) {
		mask |= MaskModify
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		mask |= MaskDeleteSelf
	}
	st, _ := os.Stat(ev.Name)
	return FSEvent{Path: ev.Name, Mask: mask, Stat: st}
}

// Add subscribes a single path for subsequent events. Adding an
// already-watched path fails silently, matching the original's
// documented behavior.
func (fw *FSWatch) Add(path string) error {
	if err := fw.watcher.Add(path); err != nil {
		return &FSWatchError{Err: err}
	}
	return nil
}

// Remove unsubscribes path. Removing a path that isn't watched fails
// silently.
func (fw *FSWatch) Remove(path string) error {
	_ = fw.watcher.Remove(path)
	return nil
}

// AddFrom watches dir and returns a synthetic "added" FSEvent for every
// regular file already present, so startup population goes through the
// same load codepath as a live reload (original_source/KBDDaemon.cpp's
// initPassthrough -> fsw.addFrom).
func (fw *FSWatch) AddFrom(dir string) ([]FSEvent, error) {
	if err := fw.watcher.Add(dir); err != nil {
		return nil, &FSWatchError{Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &FSWatchError{Err: err}
	}

	var events []FSEvent
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		events = append(events, FSEvent{Path: path, Stat: st, Added: true})
	}
	return events, nil
}

func (fw *FSWatch) Close() error {
	return fw.watcher.Close()
}

// statUidGid pulls the raw uid/gid out of an os.FileInfo, used by the
// permission gate (PassthroughSet) and the hot-plug group check
// (DeviceRegistry). No pack repo pulls in a dedicated stat/permissions
// library, so this is plain stdlib syscall.
func statUidGid(fi os.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
