package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const retryDelay = 100 * time.Millisecond

// FileLocker takes an advisory flock on <dir>/<category>.lock.
type FileLocker struct {
	dir  string
	wait time.Duration
}

// NewFileLocker returns a locker that waits up to wait for a busy category.
// A zero wait fails immediately.
func NewFileLocker(dir string, wait time.Duration) *FileLocker {
	return &FileLocker{dir: dir, wait: wait}
}

func (l *FileLocker) Acquire(ctx context.Context, category string) (func(), error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(l.dir, keyFor(category)+".lock")
	fl := flock.New(path)

	var (
		locked bool
		err    error
	)
	if l.wait <= 0 {
		locked, err = fl.TryLock()
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, l.wait)
		locked, err = fl.TryLockContext(waitCtx, retryDelay)
		cancel()
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, category)
	}
	log.Debug().Str("category", category).Str("lock", path).Msg("category lock acquired")

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := fl.Unlock(); err != nil {
				log.Warn().Err(err).Str("lock", path).Msg("release category lock")
			}
		})
	}, nil
}
