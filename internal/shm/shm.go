// Package shm manages shared-memory objects backing store entries: create or
// open, resize, map, unmap and unlink. Every function assumes the caller holds
// the named lock for the object it touches.
package shm

import (
	"errors"
	"path/filepath"
)

// DefaultDir is the shared-memory-backed filesystem on Linux.
const DefaultDir = "/dev/shm"

// ErrNotFound is returned when opening an object that does not exist.
var ErrNotFound = errors.New("shm: object not found")

// Path joins a segment name onto a shared-memory directory.
func Path(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, name)
}

// View opens the object at path read-only and calls fn with its mapped
// contents. The mapping is released before View returns, even when fn
// panics; fn must not retain data.
func View(path string, fn func(data []byte) error) (err error) {
	seg, err := Open(path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, seg.Close()) }()
	return fn(seg.data)
}

// Update opens or creates the object at path, resizes it to exactly size
// bytes and calls fn with the writable mapping. The mapping is released
// before Update returns, even when fn panics; fn must not retain data.
func Update(path string, size int, fn func(data []byte) error) (err error) {
	seg, err := OpenOrCreate(path, 0)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, seg.Close()) }()
	if err := seg.Resize(size); err != nil {
		return err
	}
	return fn(seg.data)
}
