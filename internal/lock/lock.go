// Package lock implements the driver's process-exclusive lock file,
// grounded on the atomic-write pattern in internal/core/checkpoint.go's
// CheckpointManager: a well-known path, a PID payload, and an O_EXCL
// create that fails loudly when another holder is present. The driver
// acquires this lock before starting and refuses to start if another
// driver holds it; the lock is released on any exit path.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anima/anima/internal/kernel"
)

// Lock is an acquired exclusive lock on path. The zero value is not
// usable; construct via Acquire.
type Lock struct {
	path string
}

// Acquire creates the lock file at path, failing with kernel.ErrLockHeld
// if it already exists and its recorded PID is still alive. A stale
// lock (holder PID no longer running) is reclaimed automatically.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	if err := tryCreate(path); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if !isStale(path) {
			return nil, kernel.ErrLockHeld
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
		if err := tryCreate(path); err != nil {
			return nil, kernel.ErrLockHeld
		}
	}

	return &Lock{path: path}, nil
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "pid=%d\nacquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func isStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) != nil
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return -1
}

// Release removes the lock file. Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}
