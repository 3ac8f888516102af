//go:build linux || darwin

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	minBackoff = time.Millisecond
	maxBackoff = 50 * time.Millisecond
)

// FileLocker implements Locker with flock(2) on files under Dir. The kernel
// drops a flock when the owning descriptor is closed, including on process
// death, so a crashed holder never leaves a stale lock behind.
type FileLocker struct {
	dir string
}

// NewFileLocker returns a FileLocker rooted at dir, creating it if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create lock dir %s: %w", ErrFailure, dir, err)
	}
	return &FileLocker{dir: dir}, nil
}

// Dir returns the directory holding the lock files.
func (l *FileLocker) Dir() string { return l.dir }

// Acquire blocks until the named lock is held.
func (l *FileLocker) Acquire(name string) (Guard, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	for {
		f, err := openLockFile(path)
		if err != nil {
			return nil, err
		}
		if err := flock(f, unix.LOCK_EX); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: flock %s: %w", ErrFailure, path, err)
		}
		g, err := settle(f, path)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return g, nil
		}
	}
}

// TryAcquire polls for the named lock until timeout elapses.
func (l *FileLocker) TryAcquire(name string, timeout time.Duration) (Guard, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	backoff := minBackoff
	for {
		f, err := openLockFile(path)
		if err != nil {
			return nil, err
		}
		err = flock(f, unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			g, err := settle(f, path)
			if err != nil {
				return nil, err
			}
			if g != nil {
				return g, nil
			}
			continue
		case errors.Is(err, unix.EWOULDBLOCK):
			f.Close()
		default:
			f.Close()
			return nil, fmt.Errorf("%w: flock %s: %w", ErrFailure, path, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
		}
		time.Sleep(min(backoff, remaining))
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *FileLocker) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return "", fmt.Errorf("%w: invalid lock name %q", ErrFailure, name)
	}
	return filepath.Join(l.dir, name), nil
}

func openLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrFailure, path, err)
	}
	return f, nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

// settle checks that the locked descriptor still matches the file at path.
// A holder that retired the name may have unlinked it between our open and
// our flock; in that case the lock is worthless and nil is returned so the
// caller retries against the fresh file.
func settle(f *os.File, path string) (*fileGuard, error) {
	var held, current unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &held); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: fstat %s: %w", ErrFailure, path, err)
	}
	err := unix.Stat(path, &current)
	if errors.Is(err, unix.ENOENT) || (err == nil && (held.Ino != current.Ino || held.Dev != current.Dev)) {
		f.Close()
		return nil, nil
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrFailure, path, err)
	}
	return &fileGuard{f: f, path: path}, nil
}

type fileGuard struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func (g *fileGuard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.f == nil {
		return ErrReleased
	}
	// Closing the descriptor drops the flock.
	err := g.f.Close()
	g.f = nil
	return err
}

func (g *fileGuard) Retire() error {
	g.mu.Lock()
	if g.f == nil {
		g.mu.Unlock()
		return ErrReleased
	}
	err := os.Remove(g.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	g.mu.Unlock()
	return errors.Join(err, g.Release())
}
