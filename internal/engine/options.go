package engine

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/leonardcser/shmkv/internal/entry"
	"github.com/leonardcser/shmkv/internal/lock"
	"github.com/leonardcser/shmkv/internal/shm"
)

// Options configures an Engine. The zero value is a plaintext store in
// /dev/shm with blocking locks under $TMPDIR/shmkv-locks.
type Options struct {
	// Dir is the shared-memory directory segments live in.
	Dir string
	// Prefix namespaces segment names within Dir.
	Prefix string
	// LockDir holds the lock files. Ignored when Locker is set.
	LockDir string
	// Locker overrides the flock-based named mutex.
	Locker lock.Locker
	// LockTimeout bounds lock acquisition; zero blocks until acquired.
	LockTimeout time.Duration
	// MasterKey enables sealing of every written payload.
	MasterKey []byte
	// Suite selects the AEAD for new entries when MasterKey is set.
	// Defaults to AES-256-GCM.
	Suite entry.Suite
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
	// Logger receives diagnostics; defaults to a no-op logger.
	Logger *zap.SugaredLogger
	// PurgeOnOpen sweeps expired entries when the engine is created.
	PurgeOnOpen bool
}

// DefaultLockDir returns the lock directory used when Options.LockDir is
// empty.
func DefaultLockDir() string {
	return filepath.Join(os.TempDir(), "shmkv-locks")
}

func (o *Options) setDefaults() {
	if o.Dir == "" {
		o.Dir = shm.DefaultDir
	}
	if o.LockDir == "" {
		o.LockDir = DefaultLockDir()
	}
	if o.MasterKey != nil && o.Suite == entry.SuiteNone {
		o.Suite = entry.SuiteAESGCM
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}
