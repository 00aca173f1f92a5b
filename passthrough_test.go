package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// P1: for all sequences of load/unload on distinct files, contains(c)
// iff some currently-loaded file contributed c.
func TestPassthroughSetUnion(t *testing.T) {
	dir := t.TempDir()
	pathA := writeCSV(t, dir, "a.csv", "key_code\n30\n")
	pathB := writeCSV(t, dir, "b.csv", "key_code\n30\n31\n")

	p := NewPassthroughSet(nil)

	if err := p.Load(pathA); err != nil {
		t.Fatalf("load A: %v", err)
	}
	if !p.Contains(30) {
		t.Fatal("expected 30 from A")
	}
	if p.Contains(31) {
		t.Fatal("31 should not be loaded yet")
	}

	if err := p.Load(pathB); err != nil {
		t.Fatalf("load B: %v", err)
	}
	if !p.Contains(30) || !p.Contains(31) {
		t.Fatal("expected union of A and B")
	}

	p.Unload(pathB)
	if !p.Contains(30) {
		t.Fatal("30 should survive via A after B is unloaded")
	}
	if p.Contains(31) {
		t.Fatal("31 should be gone after B is unloaded")
	}
}

// P2: load of a file with mode != 0644 or foreign uid leaves the set
// bitwise unchanged.
func TestPassthroughSetPermissionGate(t *testing.T) {
	dir := t.TempDir()
	pathA := writeCSV(t, dir, "a.csv", "key_code\n30\n")
	badPath := writeCSV(t, dir, "bad.csv", "key_code\n99\n")
	if err := os.Chmod(badPath, 0666); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	p := NewPassthroughSet(nil)
	if err := p.Load(pathA); err != nil {
		t.Fatalf("load A: %v", err)
	}

	err := p.Load(badPath)
	if err == nil {
		t.Fatal("expected rejection of non-0644 file")
	}
	var re *ReloadError
	if !asReloadError(err, &re) {
		t.Fatalf("expected ReloadError, got %T: %v", err, err)
	}
	if re.Kind != ReloadErrPerm {
		t.Fatalf("expected ReloadErrPerm, got %v", re.Kind)
	}

	if p.Contains(99) {
		t.Fatal("rejected file's codes must not appear")
	}
	if !p.Contains(30) {
		t.Fatal("prior contribution must remain intact")
	}
}

func TestPassthroughUnloadUnknownPathIsNoop(t *testing.T) {
	p := NewPassthroughSet(nil)
	p.Unload("/does/not/exist.csv")
	if p.Contains(0) {
		t.Fatal("unexpected code present")
	}
}

func TestParsePassthroughCSVSkipsUnparsableCells(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "c.csv", "key_code,comment\n30,ok\nnotanumber,bad\n-1,negative\n42,ok\n")

	codes, err := parsePassthroughCSV(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[int]bool{30: true, 42: true}
	if len(codes) != len(want) {
		t.Fatalf("got %v, want codes for %v", codes, want)
	}
	for _, c := range codes {
		if !want[c] {
			t.Fatalf("unexpected code %d", c)
		}
	}
}

func asReloadError(err error, target **ReloadError) bool {
	if re, ok := err.(*ReloadError); ok {
		*target = re
		return true
	}
	return false
}
