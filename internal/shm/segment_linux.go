//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fallocate is swapped out by tests to simulate a full filesystem.
var fallocate = unix.Fallocate

// Segment is one shared-memory object and its current mapping in this
// process.
type Segment struct {
	path     string
	file     *os.File
	data     []byte
	size     int
	writable bool
}

// OpenOrCreate opens the object at path for reading and writing, creating it
// if needed, grows it to at least minSize bytes and maps it.
func OpenOrCreate(path string, minSize int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	s := &Segment{path: path, file: f, writable: true}
	size, err := s.stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s.size = size
	if size < minSize {
		if err := s.truncate(minSize); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := s.mmap(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Open opens and maps the existing object at path read-only. A missing
// object yields ErrNotFound.
func Open(path string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	s := &Segment{path: path, file: f}
	if s.size, err = s.stat(); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.mmap(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the object's path.
func (s *Segment) Path() string { return s.path }

// Size returns the current object size in bytes.
func (s *Segment) Size() int { return s.size }

// Resize truncates the object to n bytes, growing or shrinking it, and
// re-establishes the mapping at the new size.
func (s *Segment) Resize(n int) error {
	if !s.writable {
		return fmt.Errorf("shm: resize %s: segment is read-only", s.path)
	}
	if err := s.munmap(); err != nil {
		return err
	}
	if err := s.truncate(n); err != nil {
		return err
	}
	return s.mmap()
}

// ReadBytes returns a copy of the mapped region.
func (s *Segment) ReadBytes() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Close unmaps the region and closes the descriptor. The object itself is
// left in place.
func (s *Segment) Close() error {
	var firstErr error

	if err := s.munmap(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shm: close %s: %w", s.path, err)
		}
		s.file = nil
	}

	return firstErr
}

// Destroy unlinks the object at path. Unlinking a missing object succeeds.
func Destroy(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("shm: unlink %s: %w", path, err)
}

// List returns the names of the regular files in dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("shm: list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Segment) stat() (int, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("shm: stat %s: %w", s.path, err)
	}
	return int(info.Size()), nil
}

func (s *Segment) truncate(n int) error {
	if n < 0 {
		return fmt.Errorf("shm: truncate %s: negative size %d", s.path, n)
	}
	fd := int(s.file.Fd())
	if err := unix.Ftruncate(fd, int64(n)); err != nil {
		return fmt.Errorf("shm: truncate %s to %d: %w", s.path, n, err)
	}
	// tmpfs grows sparsely. Reserve the pages now so a full filesystem
	// fails here with ENOSPC and not later with SIGBUS on first touch.
	if n > s.size {
		if err := fallocate(fd, 0, 0, int64(n)); err != nil && !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.ENOSYS) {
			_ = unix.Ftruncate(fd, int64(s.size))
			return fmt.Errorf("shm: reserve %d bytes for %s: %w", n, s.path, err)
		}
	}
	s.size = n
	return nil
}

func (s *Segment) mmap() error {
	// mmap rejects zero-length mappings; an empty object has no data.
	if s.size == 0 {
		s.data = nil
		return nil
	}
	prot := unix.PROT_READ
	if s.writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, s.size, prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: mmap %s (%d bytes): %w", s.path, s.size, err)
	}
	s.data = data
	return nil
}

func (s *Segment) munmap() error {
	if len(s.data) == 0 {
		s.data = nil
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return fmt.Errorf("shm: munmap %s: %w", s.path, err)
	}
	return nil
}
