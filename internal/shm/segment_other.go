//go:build !linux

package shm

import (
	"errors"
	"fmt"
)

// Segment is unavailable off Linux: there is no shared-memory-backed
// filesystem to place objects in.
type Segment struct {
	path string
	data []byte
}

func OpenOrCreate(path string, minSize int) (*Segment, error) {
	return nil, fmt.Errorf("shm: create %s: %w", path, errors.ErrUnsupported)
}

func Open(path string) (*Segment, error) {
	return nil, fmt.Errorf("shm: open %s: %w", path, errors.ErrUnsupported)
}

func (s *Segment) Path() string { return s.path }

func (s *Segment) Size() int { return 0 }

func (s *Segment) Resize(n int) error { return errors.ErrUnsupported }

func (s *Segment) ReadBytes() []byte { return nil }

func (s *Segment) Close() error { return nil }

func Destroy(path string) error { return errors.ErrUnsupported }

func List(dir string) ([]string, error) { return nil, errors.ErrUnsupported }
