package engine

import (
	"errors"

	"github.com/leonardcser/shmkv/internal/crypt"
	"github.com/leonardcser/shmkv/internal/entry"
	"github.com/leonardcser/shmkv/internal/lock"
)

// Error kinds returned by Engine operations. Match them with errors.Is.
var (
	// ErrNotFound: the key has no live segment, or its entry expired.
	ErrNotFound = errors.New("shmkv: not found")
	// ErrLockTimeout: the key's lock stayed held for the whole LockTimeout.
	ErrLockTimeout = lock.ErrTimeout
	// ErrLockFailure: the key's lock could not be created or taken.
	ErrLockFailure = lock.ErrFailure
	// ErrSegmentIO: creating, resizing, mapping or unlinking a segment failed.
	ErrSegmentIO = errors.New("shmkv: segment i/o failed")
	// ErrCorruptFormat: segment bytes fail magic, version or structural checks.
	ErrCorruptFormat = entry.ErrCorrupt
	// ErrAuthenticationFailed: a sealed payload failed its tag check, or its
	// sealing does not match the store's key configuration.
	ErrAuthenticationFailed = crypt.ErrAuthentication
	// ErrKeyTooLarge: the key does not fit the entry format.
	ErrKeyTooLarge = entry.ErrKeyTooLarge
	// ErrSerialization: a value codec failed to encode or decode a payload.
	ErrSerialization = errors.New("shmkv: serialization failed")
)
