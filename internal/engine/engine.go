// Package engine stores entries in per-key shared-memory segments. Every
// operation derives the key's segment and lock names, takes the lock, works
// on the segment and releases the lock before returning.
//
// Operations on one key are serialised across goroutines and processes.
// Operations on different keys never wait on each other.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leonardcser/shmkv/internal/crypt"
	"github.com/leonardcser/shmkv/internal/entry"
	"github.com/leonardcser/shmkv/internal/lock"
	"github.com/leonardcser/shmkv/internal/naming"
	"github.com/leonardcser/shmkv/internal/shm"
)

// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	dir         string
	names       naming.Namer
	locker      lock.Locker
	lockTimeout time.Duration
	cipher      *crypt.Cipher
	suite       entry.Suite
	now         func() time.Time
	log         *zap.SugaredLogger
}

// Stats summarises the live entries of a store.
type Stats struct {
	Keys  int `json:"keys" yaml:"keys"`   // Number of live entries
	Bytes int `json:"bytes" yaml:"bytes"` // Encoded size of live entries
}

// New returns an Engine for opts.
func New(opts Options) (*Engine, error) {
	opts.setDefaults()

	names, err := naming.New(opts.Prefix)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: shared-memory dir: %w", ErrSegmentIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: shared-memory dir %s is not a directory", ErrSegmentIO, opts.Dir)
	}

	locker := opts.Locker
	if locker == nil {
		fl, err := lock.NewFileLocker(opts.LockDir)
		if err != nil {
			return nil, err
		}
		locker = fl
	}

	e := &Engine{
		dir:         opts.Dir,
		names:       names,
		locker:      locker,
		lockTimeout: opts.LockTimeout,
		suite:       entry.SuiteNone,
		now:         opts.Clock,
		log:         opts.Logger,
	}

	if opts.MasterKey != nil {
		c, err := crypt.New(opts.MasterKey)
		if err != nil {
			return nil, err
		}
		if c.Overhead(opts.Suite) == 0 {
			return nil, fmt.Errorf("engine: unsupported suite %s", opts.Suite)
		}
		e.cipher = c
		e.suite = opts.Suite
	}

	if opts.PurgeOnOpen {
		n, err := e.PurgeExpired()
		if err != nil {
			e.log.Warnw("purge on open failed", "error", err)
		} else if n > 0 {
			e.log.Infow("purged expired entries", "count", n)
		}
	}

	return e, nil
}

// Encrypted reports whether payloads are sealed.
func (e *Engine) Encrypted() bool { return e.cipher != nil }

// Insert stores value under key with no expiry, replacing any previous
// value.
func (e *Engine) Insert(key string, value []byte) error {
	return e.InsertWithTTL(key, value, 0)
}

// InsertWithTTL stores value under key. A positive ttl makes the entry
// expire at now+ttl; otherwise it never expires.
func (e *Engine) InsertWithTTL(key string, value []byte, ttl time.Duration) error {
	if err := entry.CheckKey(key); err != nil {
		return err
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = e.now().Add(ttl)
	}

	ent := &entry.Entry{
		Header:  entry.Header{Key: key, ExpiresAt: expiresAt},
		Payload: value,
	}
	if e.cipher != nil {
		ent.Suite = e.suite
		ct, nonce, err := e.cipher.Seal(e.suite, value, ent.AssociatedData())
		if err != nil {
			return err
		}
		ent.Payload, ent.Nonce = ct, nonce
	}
	buf := entry.Encode(ent)

	seg := e.names.Segment(key)
	return e.critical(seg, func() (bool, error) {
		return e.write(seg, buf)
	})
}

// Get returns the value stored under key. Missing and expired keys yield
// ErrNotFound; an expired entry's segment is destroyed on the way.
func (e *Engine) Get(key string) ([]byte, error) {
	seg := e.names.Segment(key)
	var value []byte
	err := e.critical(seg, func() (bool, error) {
		ent, _, err := e.load(seg)
		if errors.Is(err, shm.ErrNotFound) {
			return true, ErrNotFound
		}
		if err != nil {
			return false, err
		}
		if ent.Key != key {
			return false, fmt.Errorf("%w: segment %s holds another key", ErrCorruptFormat, seg)
		}
		if ent.Expired(e.now()) {
			if err := e.destroy(seg); err != nil {
				return false, err
			}
			return true, ErrNotFound
		}
		value, err = e.open(ent)
		return false, err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Remove destroys key's segment. Removing a missing key succeeds.
func (e *Engine) Remove(key string) error {
	seg := e.names.Segment(key)
	return e.critical(seg, func() (bool, error) {
		return true, e.destroy(seg)
	})
}

// PurgeExpired destroys every expired segment in the store and returns how
// many it reclaimed. Corrupt segments are logged and left alone.
func (e *Engine) PurgeExpired() (int, error) {
	return e.scan(nil)
}

// Keys returns the live keys, sorted.
func (e *Engine) Keys() ([]string, error) {
	var keys []string
	_, err := e.scan(func(ent *entry.Entry, _ []byte) error {
		keys = append(keys, ent.Key)
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// Stats counts the live entries and their encoded size.
func (e *Engine) Stats() (Stats, error) {
	var st Stats
	_, err := e.scan(func(_ *entry.Entry, raw []byte) error {
		st.Keys++
		st.Bytes += len(raw)
		return nil
	})
	return st, err
}

// Export calls fn with the key and encoded bytes of every live entry.
// Sealed entries are exported sealed. fn runs while the entry's lock is
// held and must not call back into the engine.
func (e *Engine) Export(fn func(key string, raw []byte) error) error {
	_, err := e.scan(func(ent *entry.Entry, raw []byte) error {
		return fn(ent.Key, raw)
	})
	return err
}

// Restore writes an entry previously obtained from Export back under its
// key. It reports false without writing when the entry has expired since.
// The entry must open under this engine's key configuration.
func (e *Engine) Restore(raw []byte) (bool, error) {
	ent, err := entry.Decode(raw)
	if err != nil {
		return false, err
	}
	if ent.Expired(e.now()) {
		return false, nil
	}
	if _, err := e.open(ent); err != nil {
		return false, err
	}

	buf := raw[:ent.Size()]
	seg := e.names.Segment(ent.Key)
	err = e.critical(seg, func() (bool, error) {
		return e.write(seg, buf)
	})
	return err == nil, err
}

// critical runs fn while holding seg's lock. fn reports whether the lock
// file should be retired, which it does once the segment is gone.
func (e *Engine) critical(seg string, fn func() (retire bool, err error)) error {
	name := e.names.Lock(seg)

	var g lock.Guard
	var err error
	if e.lockTimeout > 0 {
		g, err = e.locker.TryAcquire(name, e.lockTimeout)
	} else {
		g, err = e.locker.Acquire(name)
	}
	if err != nil {
		return err
	}

	retire := false
	defer func() {
		var rerr error
		if retire {
			rerr = g.Retire()
		} else {
			rerr = g.Release()
		}
		if rerr != nil {
			e.log.Warnw("releasing lock", "lock", name, "error", rerr)
		}
	}()

	retire, err = fn()
	return err
}

func (e *Engine) path(seg string) string {
	return shm.Path(e.dir, seg)
}

// write replaces seg's contents with buf. A failed write destroys the
// segment so no partial entry is left behind.
func (e *Engine) write(seg string, buf []byte) (bool, error) {
	path := e.path(seg)
	err := shm.Update(path, len(buf), func(data []byte) error {
		return entry.Commit(data, buf)
	})
	if err != nil {
		derr := shm.Destroy(path)
		return derr == nil, fmt.Errorf("%w: %w", ErrSegmentIO, errors.Join(err, derr))
	}
	return false, nil
}

// load decodes seg's entry and returns it with a copy of its encoded bytes.
func (e *Engine) load(seg string) (*entry.Entry, []byte, error) {
	var ent *entry.Entry
	var raw []byte
	err := shm.View(e.path(seg), func(data []byte) error {
		var err error
		if ent, err = entry.Decode(data); err != nil {
			return err
		}
		raw = bytes.Clone(data[:ent.Size()])
		return nil
	})
	switch {
	case err == nil:
		return ent, raw, nil
	case errors.Is(err, shm.ErrNotFound), errors.Is(err, entry.ErrCorrupt):
		return nil, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: %w", ErrSegmentIO, err)
	}
}

func (e *Engine) destroy(seg string) error {
	if err := shm.Destroy(e.path(seg)); err != nil {
		return fmt.Errorf("%w: %w", ErrSegmentIO, err)
	}
	return nil
}

// open returns ent's plaintext payload.
func (e *Engine) open(ent *entry.Entry) ([]byte, error) {
	if !ent.Sealed() {
		if e.cipher != nil {
			return nil, fmt.Errorf("%w: plaintext entry in an encrypted store", ErrAuthenticationFailed)
		}
		return ent.Payload, nil
	}
	if e.cipher == nil {
		return nil, fmt.Errorf("%w: entry is sealed with %s and the store has no master key", ErrAuthenticationFailed, ent.Suite)
	}
	return e.cipher.Open(ent.Suite, ent.Payload, ent.Nonce, ent.AssociatedData())
}

// scan visits every owned segment in the store directory under its lock.
// Expired entries are destroyed and counted instead of visited; vanished
// segments are skipped; corrupt ones are logged and skipped.
func (e *Engine) scan(visit func(ent *entry.Entry, raw []byte) error) (int, error) {
	names, err := shm.List(e.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSegmentIO, err)
	}

	purged := 0
	var errs []error
	for _, seg := range names {
		if !e.names.Owns(seg) {
			continue
		}
		err := e.critical(seg, func() (bool, error) {
			ent, raw, err := e.load(seg)
			switch {
			case errors.Is(err, shm.ErrNotFound):
				return true, nil
			case errors.Is(err, entry.ErrCorrupt):
				e.log.Warnw("skipping corrupt segment", "segment", seg, "error", err)
				return false, nil
			case err != nil:
				return false, err
			}
			if e.names.Segment(ent.Key) != seg {
				e.log.Warnw("skipping segment holding another key", "segment", seg)
				return false, nil
			}
			if ent.Expired(e.now()) {
				if err := e.destroy(seg); err != nil {
					return false, err
				}
				purged++
				return true, nil
			}
			if visit == nil {
				return false, nil
			}
			return false, visit(ent, raw)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", seg, err))
		}
	}
	if purged > 0 {
		e.log.Debugw("reclaimed expired segments", "count", purged)
	}
	return purged, errors.Join(errs...)
}
