package main

import (
	"fmt"
	"os"
)

var debugEnabled = os.Getenv("KBDD_DEBUG") != ""

// logf prints an informational line to stderr, matching the teacher's
// plain fmt.Fprintf style rather than pulling in a logging framework.
func logf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "kbdd: "+format+"\n", args...)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "kbdd: warning: "+format+"\n", args...)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "kbdd: fatal: "+format+"\n", args...)
	os.Exit(1)
}

func dbg(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "kbdd: debug: "+format+"\n", args...)
}
