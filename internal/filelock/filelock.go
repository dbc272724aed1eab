// Package filelock guards the run state directory against concurrent writers
// and provides atomic file writes for result and context snapshots.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// runLockName is the lock file placed at the root of a run state directory.
const runLockName = ".orchestra.lock"

// RunLock is an exclusive process-level lock on a run state directory.
// Exactly one engine process may own a run directory at a time; context and
// result files inside it are then serialized per task id in memory.
type RunLock struct {
	flock *flock.Flock
	dir   string
}

// AcquireRunDir takes the exclusive lock for the given state directory,
// creating the directory if needed. It fails immediately (rather than
// blocking) when another process holds the run.
func AcquireRunDir(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, runLockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state directory %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("state directory %s is in use by another process", dir)
	}
	return &RunLock{flock: fl, dir: dir}, nil
}

// Release drops the lock. Safe to call on a nil receiver.
func (rl *RunLock) Release() error {
	if rl == nil {
		return nil
	}
	if err := rl.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock state directory %s: %w", rl.dir, err)
	}
	return nil
}

// Dir returns the locked state directory.
func (rl *RunLock) Dir() string {
	return rl.dir
}

// AtomicWrite writes data to path via a temp file plus rename so that readers
// never observe a partial file. An interrupted write leaves any existing file
// untouched. The parent directory is created if missing.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Temp file must live in the target directory: rename is only atomic
	// within one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	tmp = nil
	return nil
}
