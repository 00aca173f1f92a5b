package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ReloadErrorKind distinguishes the CSV-load failure modes spec §7 names.
type ReloadErrorKind int

const (
	ReloadErrPath ReloadErrorKind = iota
	ReloadErrPerm
	ReloadErrParse
)

// ReloadError is returned by PassthroughSet.Load; policy is always "log
// and keep the prior contribution, if any" (spec §7).
type ReloadError struct {
	Kind ReloadErrorKind
	Path string
	Err  error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload %s: %v", e.Path, e.Err)
}
func (e *ReloadError) Unwrap() error { return e.Err }

// PassthroughSet is the union of key codes across all loaded CSV files
// (spec §3, §4.E). All mutation and lookup is serialized by mu.
//
// Invariant I1: codes always equals the union, with duplicates
// collapsed, of every currently-loaded keySources entry; Unload
// rebuilds codes from the remaining sources rather than trying to
// subtract in place, since two files may contribute the same code.
type PassthroughSet struct {
	mu         sync.Mutex
	keySources map[string][]int
	codes      map[int]struct{}
	watch      *FSWatch
}

// NewPassthroughSet creates an empty set that registers loaded files
// with watch for hot-reload.
func NewPassthroughSet(watch *FSWatch) *PassthroughSet {
	return &PassthroughSet{
		keySources: make(map[string][]int),
		codes:      make(map[int]struct{}),
		watch:      watch,
	}
}

// Contains reports whether code is currently in the passthrough set.
func (p *PassthroughSet) Contains(code uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.codes[int(code)]
	return ok
}

// Load canonicalizes path, validates its credentials, and (re)parses its
// CSV contribution. On any rejection the prior contribution (if any) is
// left intact, per spec §4.E step 2.
func (p *PassthroughSet) Load(absPath string) error {
	canon, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return &ReloadError{Kind: ReloadErrPath, Path: absPath, Err: err}
	}

	fi, err := os.Stat(canon)
	if err != nil {
		return &ReloadError{Kind: ReloadErrPath, Path: canon, Err: err}
	}

	// Security boundary, not a convenience check: world-writable or
	// foreign-owned config files would let an unprivileged user
	// exfiltrate keystrokes through a crafted passthrough list.
	if fi.Mode().Perm() != 0644 {
		warnf("rejecting passthrough file %s: mode %v is not 0644", canon, fi.Mode().Perm())
		return &ReloadError{Kind: ReloadErrPerm, Path: canon, Err: fmt.Errorf("mode %v != 0644", fi.Mode().Perm())}
	}
	uid, _, ok := statUidGid(fi)
	if !ok {
		return &ReloadError{Kind: ReloadErrPerm, Path: canon, Err: fmt.Errorf("cannot determine file owner")}
	}
	if int(uid) != os.Geteuid() {
		warnf("rejecting passthrough file %s: owned by uid %d, not %d", canon, uid, os.Geteuid())
		return &ReloadError{Kind: ReloadErrPerm, Path: canon, Err: fmt.Errorf("uid %d != %d", uid, os.Geteuid())}
	}

	p.Unload(canon)

	codes, err := parsePassthroughCSV(canon)
	if err != nil {
		return &ReloadError{Kind: ReloadErrParse, Path: canon, Err: err}
	}

	p.mu.Lock()
	p.keySources[canon] = codes
	for _, c := range codes {
		p.codes[c] = struct{}{}
	}
	p.mu.Unlock()

	if p.watch != nil {
		if err := p.watch.Add(canon); err != nil {
			warnf("could not watch %s for hot-reload: %v", canon, err)
		}
	}
	logf("loaded passthrough file %s (%d codes)", canon, len(codes))
	return nil
}

// Unload drops path's contribution and rebuilds codes from the
// remaining sources' union. Silently succeeds if path was not loaded.
func (p *PassthroughSet) Unload(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.keySources[path]; !ok {
		return
	}
	delete(p.keySources, path)

	p.codes = make(map[int]struct{})
	for _, codes := range p.keySources {
		for _, c := range codes {
			p.codes[c] = struct{}{}
		}
	}
}

// HandleFSEvent dispatches a passthrough-directory FSEvent to
// Load/Unload per spec §4.E's hot-reload dispatch table.
func (p *PassthroughSet) HandleFSEvent(ev FSEvent) {
	if ev.Mask&MaskDeleteSelf != 0 {
		p.Unload(ev.Path)
		return
	}
	if ev.Mask&(MaskCreate|MaskModify) != 0 || ev.Added {
		if err := p.Load(ev.Path); err != nil {
			warnf("%v", err)
		}
	}
}

// parsePassthroughCSV extracts the key_code column; cells that don't
// parse as a non-negative integer are silently skipped (CSVs may carry
// comments or headers in future revisions, spec §4.E step 4), preserving
// the original's stoi-exception-swallowing behavior.
func parsePassthroughCSV(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	col := -1
	for i, h := range header {
		if h == "key_code" {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, fmt.Errorf("no key_code column in %s", path)
	}

	var codes []int
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if col >= len(rec) {
			continue
		}
		n, err := strconv.Atoi(rec[col])
		if err != nil || n < 0 {
			continue
		}
		codes = append(codes, n)
	}
	return codes, nil
}
