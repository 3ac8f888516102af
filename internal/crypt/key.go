package crypt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnvKey holds a hex-encoded master key that overrides any key file.
const EnvKey = "SHMKV_KEY"

// DefaultKeyPath returns the default master key location, following the XDG
// Base Directory spec.
func DefaultKeyPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "shmkv", "key")
}

// LoadOrGenerateKey returns the master key. Priority:
//  1. SHMKV_KEY environment variable
//  2. hex key file at keyPath
//  3. a new random 32-byte key, written to keyPath with 0600 permissions
//
// generated reports whether a new key was written.
func LoadOrGenerateKey(keyPath string) (key []byte, generated bool, err error) {
	if keyStr := os.Getenv(EnvKey); keyStr != "" {
		key, err := decodeKey(keyStr)
		if err != nil {
			return nil, false, fmt.Errorf("crypt: %s: %w", EnvKey, err)
		}
		return key, false, nil
	}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := decodeKey(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("crypt: key file %s: %w", keyPath, err)
		}
		return key, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("crypt: failed to read key file: %w", err)
	}

	key = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("crypt: failed to generate random key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, false, fmt.Errorf("crypt: failed to create key directory: %w", err)
	}
	// Publish through a hard link so a concurrent reader never sees a
	// partially written file and a racing generator keeps the first key.
	tmp, err := os.CreateTemp(filepath.Dir(keyPath), ".key-*")
	if err != nil {
		return nil, false, fmt.Errorf("crypt: failed to write key file: %w", err)
	}
	defer os.Remove(tmp.Name())
	_, werr := tmp.WriteString(hex.EncodeToString(key))
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, false, fmt.Errorf("crypt: failed to write key file: %w", werr)
	}
	if err := os.Link(tmp.Name(), keyPath); err != nil {
		if os.IsExist(err) {
			return LoadOrGenerateKey(keyPath)
		}
		return nil, false, fmt.Errorf("crypt: failed to write key file: %w", err)
	}
	return key, true, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooShort, len(key))
	}
	return key, nil
}
