package querylog

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/danjacques/gofslock/fslock"
)

// LockFileName is the lock shared by every instance syncing into one
// backup directory.
const LockFileName = ".logsync.lock"

const lockRetryDelay = 500 * time.Millisecond

// WithLock runs fn while holding the backup directory's exclusive lock,
// waiting for it until ctx is done.
func WithLock(ctx context.Context, backupDir string, logger *slog.Logger, fn func() error) error {
	path := filepath.Join(backupDir, LockFileName)
	logged := false
	blocker := func() error {
		if !logged {
			logger.Info("backup directory is locked by another sync, waiting", "lock", path)
			logged = true
		}
		t := time.NewTimer(lockRetryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return fslock.WithBlocking(path, blocker, fn)
}
