package count

import (
	"context"
	"os"
	"time"
)

// sysLock is a system-wide lock shared across processes: it os.Mkdir()s
// a sibling `<file>.lock` directory, relying on mkdir's POSIX atomicity
// to guarantee only one process holds the lock at a time. Grounded on
// the Python SysLock class in
// _examples/original_source/plugins/count.py.
type sysLock struct {
	lockPath string
}

func newSysLock(filePath string) *sysLock {
	return &sysLock{lockPath: filePath + ".lock"}
}

// Acquire blocks until the lock directory can be created, polling every
// 200ms, matching the Python implementation's wait_for_lock.
func (l *sysLock) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := os.Mkdir(l.lockPath, 0o750)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release removes the lock directory.
func (l *sysLock) Release() error {
	return os.Remove(l.lockPath)
}
