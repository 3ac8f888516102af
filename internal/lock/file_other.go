//go:build !linux && !darwin

package lock

import (
	"errors"
	"time"
)

// FileLocker is unavailable on this platform.
type FileLocker struct{}

// NewFileLocker reports that file locks are unsupported.
func NewFileLocker(dir string) (*FileLocker, error) {
	return nil, errors.ErrUnsupported
}

func (l *FileLocker) Dir() string { return "" }

func (l *FileLocker) Acquire(name string) (Guard, error) { return nil, errors.ErrUnsupported }

func (l *FileLocker) TryAcquire(name string, timeout time.Duration) (Guard, error) {
	return nil, errors.ErrUnsupported
}
