package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Archive persists snapshots of a store in a Bolt database so entries can
// outlive the shared-memory filesystem. Entries are kept in their encoded
// form; sealed entries stay sealed on disk.
// It is safe for concurrent use by multiple goroutines.
type Archive struct {
	db *bolt.DB
}

// Manifest describes the snapshot held in an archive.
type Manifest struct {
	ID        string    `cbor:"1,keyasint" json:"id" yaml:"id"`
	CreatedAt time.Time `cbor:"2,keyasint" json:"created_at" yaml:"created_at"`
	Entries   int       `cbor:"3,keyasint" json:"entries" yaml:"entries"`
	Bytes     int       `cbor:"4,keyasint" json:"bytes" yaml:"bytes"`
	Encrypted bool      `cbor:"5,keyasint" json:"encrypted" yaml:"encrypted"`
}

// RestoreResult counts what Load did with each archived entry.
type RestoreResult struct {
	Restored int `json:"restored" yaml:"restored"`
	Expired  int `json:"expired" yaml:"expired"`
}

// Exporter is the source of a snapshot.
type Exporter interface {
	Export(fn func(key string, raw []byte) error) error
	Encrypted() bool
}

// Restorer is the destination of a snapshot.
type Restorer interface {
	Restore(raw []byte) (bool, error)
}

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")
	manifestKey   = []byte("manifest")

	// ErrNoSnapshot is returned by Load and Manifest for an empty archive.
	ErrNoSnapshot = errors.New("cache: archive holds no snapshot")
)

// OpenArchive initializes or opens an Archive at the given path.
func OpenArchive(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{entriesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Save replaces the archived snapshot with every live entry of src.
// Nothing is replaced if the export fails.
func (a *Archive) Save(src Exporter) (Manifest, error) {
	m := Manifest{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Encrypted: src.Encrypted(),
	}
	err := a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		if err := src.Export(func(key string, raw []byte) error {
			m.Entries++
			m.Bytes += len(raw)
			return b.Put([]byte(key), raw)
		}); err != nil {
			return err
		}
		data, err := cbor.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(manifestKey, data)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("cache: saving snapshot: %w", err)
	}
	return m, nil
}

// Manifest returns the description of the archived snapshot.
func (a *Archive) Manifest() (Manifest, error) {
	var m Manifest
	err := a.db.View(func(tx *bolt.Tx) error {
		return readManifest(tx, &m)
	})
	return m, err
}

func readManifest(tx *bolt.Tx, m *Manifest) error {
	data := tx.Bucket(metaBucket).Get(manifestKey)
	if data == nil {
		return ErrNoSnapshot
	}
	if err := cbor.Unmarshal(data, m); err != nil {
		return fmt.Errorf("cache: reading manifest: %w", err)
	}
	return nil
}

// Load writes every archived entry back through dst. Entries that expired
// since the snapshot was taken are counted and skipped. Load stops at the
// first entry dst rejects.
func (a *Archive) Load(dst Restorer) (RestoreResult, error) {
	var res RestoreResult
	err := a.db.View(func(tx *bolt.Tx) error {
		var m Manifest
		if err := readManifest(tx, &m); err != nil {
			return err
		}
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			ok, err := dst.Restore(v)
			if err != nil {
				return fmt.Errorf("cache: restoring %q: %w", k, err)
			}
			if ok {
				res.Restored++
			} else {
				res.Expired++
			}
			return nil
		})
	})
	return res, err
}
