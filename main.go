package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

const grabRetries = 5
const grabBackoff = 200 * time.Millisecond

func configPath() string {
	if p := os.Getenv("KBDD_CONFIG"); p != "" {
		return p
	}
	return "/etc/kbdd/config.yml"
}

// findDevicePath scans /dev/input/event* for a device whose name
// contains identity (case-insensitive), the CLI-supplied match string
// from spec §6. The probing handle is always closed before returning.
func findDevicePath(identity string) (string, error) {
	matches, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return "", fmt.Errorf("glob /dev/input: %w", err)
	}

	needle := strings.ToLower(identity)
	for _, path := range matches {
		dev, err := evdev.Open(path)
		if err != nil {
			continue
		}
		name := strings.ToLower(dev.Name)
		dev.File.Close()
		if strings.Contains(name, needle) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no input device matching %q", identity)
}

// openAndLockDevice opens the device matching identity and grabs it,
// retrying the grab a bounded number of times with backoff: spec §7
// says DeviceErrGrab is "transient retry with backoff; fatal only at
// startup if all devices fail" — "all" is enforced by the caller, not
// here, so a single device's exhaustion is reported, not fatal.
func openAndLockDevice(identity string) (*Device, error) {
	path, err := findDevicePath(identity)
	if err != nil {
		return nil, err
	}

	dev, err := OpenDevice(path)
	if err != nil {
		return nil, err
	}

	var lockErr error
	for attempt := 0; attempt < grabRetries; attempt++ {
		if lockErr = dev.Lock(); lockErr == nil {
			return dev, nil
		}
		time.Sleep(grabBackoff * time.Duration(attempt+1))
	}
	dev.Close()
	return nil, fmt.Errorf("grab %q (%s): %w", identity, path, lockErr)
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: %s <device-identity> [<device-identity> ...]", filepath.Base(os.Args[0]))
	}
	identities := os.Args[1:]

	cfgPath := configPath()
	if err := WriteDefaultConfig(cfgPath); err != nil {
		warnf("could not write starter config %s: %v", cfgPath, err)
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.KeysDir, 0755); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}

	registry := NewDeviceRegistry(cfg)

	locked := 0
	for _, identity := range identities {
		dev, err := openAndLockDevice(identity)
		if err != nil {
			warnf("%v", err)
			continue
		}
		registry.AddAvailable(dev)
		locked++
		logf("grabbed %q", identity)
	}
	if locked == 0 {
		return fmt.Errorf("failed to grab any of %d configured devices", len(identities))
	}

	vout, err := NewVirtualOut(cfg.VirtualKeyboard)
	if err != nil {
		return fmt.Errorf("create virtual keyboard: %w", err)
	}
	defer vout.Close()

	socket, err := DialFrameSocket(cfg.SocketPath, cfg.RecvTimeout)
	if err != nil {
		return fmt.Errorf("connect to macro daemon at %s: %w", cfg.SocketPath, err)
	}
	defer socket.Close()

	keysWatch, err := NewFSWatch()
	if err != nil {
		return fmt.Errorf("start keys-dir watch: %w", err)
	}
	defer keysWatch.Close()

	passthru := NewPassthroughSet(keysWatch)
	startupEvents, err := keysWatch.AddFrom(cfg.KeysDir)
	if err != nil {
		return fmt.Errorf("watch keys dir: %w", err)
	}
	for _, ev := range startupEvents {
		passthru.HandleFSEvent(ev)
	}

	inputWatch, err := NewFSWatch()
	if err != nil {
		return fmt.Errorf("start /dev/input watch: %w", err)
	}
	defer inputWatch.Close()
	if err := inputWatch.Add("/dev/input"); err != nil {
		return fmt.Errorf("watch /dev/input: %w", err)
	}

	loop := NewRunloop(registry, passthru, socket, vout, cfg, keysWatch, inputWatch)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		<-sigc
		logf("received shutdown signal")
		loop.Stop()
	}()

	loop.Run()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kbdd: %v\n", err)
		os.Exit(1)
	}
}
