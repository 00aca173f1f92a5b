package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSWatchAddFromSynthesizesAddedEvents(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "keys.csv"), []byte("key_code\n30\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fw, err := NewFSWatch()
	if err != nil {
		t.Fatalf("new fswatch: %v", err)
	}
	defer fw.Close()

	events, err := fw.AddFrom(dir)
	if err != nil {
		t.Fatalf("addFrom: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one synthesized event (dir skipped), got %d", len(events))
	}
	if !events[0].Added {
		t.Fatal("expected Added=true on startup-synthesized event")
	}
	if events[0].Path != filepath.Join(dir, "keys.csv") {
		t.Fatalf("unexpected path %s", events[0].Path)
	}
	if events[0].Stat == nil {
		t.Fatal("expected a populated Stat")
	}
}

func TestFSWatchLiveCreateAndModifyEvents(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFSWatch()
	if err != nil {
		t.Fatalf("new fswatch: %v", err)
	}
	defer fw.Close()

	if _, err := fw.AddFrom(dir); err != nil {
		t.Fatalf("addFrom: %v", err)
	}

	path := filepath.Join(dir, "keys.csv")
	if err := os.WriteFile(path, []byte("key_code\n1\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-fw.Events:
		if ev.Path != path {
			t.Fatalf("expected event for %s, got %s", path, ev.Path)
		}
		if ev.Mask&MaskCreate == 0 {
			t.Fatalf("expected MaskCreate set, got mask=%b", ev.Mask)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}

	if err := os.WriteFile(path, []byte("key_code\n1\n2\n"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case ev := <-fw.Events:
		if ev.Mask&MaskModify == 0 && ev.Mask&MaskCreate == 0 {
			t.Fatalf("expected modify or create mask on rewrite, got mask=%b", ev.Mask)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for modify event")
	}
}

func TestFSWatchRemoveIsSilentOnUnwatchedPath(t *testing.T) {
	fw, err := NewFSWatch()
	if err != nil {
		t.Fatalf("new fswatch: %v", err)
	}
	defer fw.Close()

	if err := fw.Remove("/nonexistent/path"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
}
