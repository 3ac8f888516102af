// Package naming maps logical keys to shared-memory object names and lock names.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix namespaces segment names so they do not collide with other
// applications' objects in /dev/shm.
const DefaultPrefix = "shmkv"

const (
	lockSuffix = ".lock"
	hashLen    = sha256.Size * 2
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// Namer derives segment and lock names for one store prefix.
type Namer struct {
	prefix string
}

// New returns a Namer for prefix. An empty prefix selects DefaultPrefix.
func New(prefix string) (Namer, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !prefixPattern.MatchString(prefix) {
		return Namer{}, fmt.Errorf("naming: invalid prefix %q", prefix)
	}
	return Namer{prefix: prefix}, nil
}

// Prefix returns the namespace prefix.
func (n Namer) Prefix() string { return n.prefix }

// Segment returns the shared-memory object name for key.
// Same key, same name, across processes and restarts.
func (n Namer) Segment(key string) string {
	sum := sha256.Sum256([]byte(key))
	return n.prefix + "." + hex.EncodeToString(sum[:])
}

// Lock returns the lock name paired with a segment name.
func (n Namer) Lock(segment string) string {
	return segment + lockSuffix
}

// Owns reports whether name is a segment name this Namer could have produced.
func (n Namer) Owns(name string) bool {
	rest, ok := strings.CutPrefix(name, n.prefix+".")
	if !ok || len(rest) != hashLen {
		return false
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
