// Package crypt seals and opens entry payloads with authenticated encryption.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/leonardcser/shmkv/internal/entry"
)

// MinKeySize is the shortest accepted master key.
const MinKeySize = 16

var (
	// ErrAuthentication is returned when a ciphertext fails its tag check:
	// tampering, a wrong master key or a damaged segment.
	ErrAuthentication = errors.New("crypt: authentication failed")
	// ErrKeyTooShort is returned for master keys under MinKeySize bytes.
	ErrKeyTooShort = errors.New("crypt: master key too short")
)

// Cipher holds the AEADs derived from one master key.
type Cipher struct {
	aeads map[entry.Suite]cipher.AEAD
}

// New derives per-suite keys from masterKey with HKDF-SHA256.
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < MinKeySize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrKeyTooShort, len(masterKey), MinKeySize)
	}

	aesKey, err := derive(masterKey, "shmkv aes-256-gcm v1")
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("crypt: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: failed to create GCM: %w", err)
	}

	xKey, err := derive(masterKey, "shmkv xchacha20-poly1305 v1")
	if err != nil {
		return nil, err
	}
	xchacha, err := chacha20poly1305.NewX(xKey)
	if err != nil {
		return nil, fmt.Errorf("crypt: failed to create XChaCha20-Poly1305: %w", err)
	}

	return &Cipher{aeads: map[entry.Suite]cipher.AEAD{
		entry.SuiteAESGCM:            gcm,
		entry.SuiteXChaCha20Poly1305: xchacha,
	}}, nil
}

func derive(masterKey []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("crypt: failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(suite entry.Suite, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aead, err := c.aead(suite)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("crypt: failed to generate nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open decrypts and authenticates ciphertext.
func (c *Cipher) Open(suite entry.Suite, ciphertext, nonce, aad []byte) ([]byte, error) {
	aead, err := c.aead(suite)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrAuthentication, len(nonce), aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Overhead returns the ciphertext expansion of suite.
func (c *Cipher) Overhead(suite entry.Suite) int {
	if aead, err := c.aead(suite); err == nil {
		return aead.Overhead()
	}
	return 0
}

func (c *Cipher) aead(suite entry.Suite) (cipher.AEAD, error) {
	aead, ok := c.aeads[suite]
	if !ok {
		return nil, fmt.Errorf("crypt: unsupported suite %s", suite)
	}
	return aead, nil
}

// ParseSuite maps a configuration name to a sealing suite. The empty string
// selects AES-256-GCM.
func ParseSuite(name string) (entry.Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-256-gcm", "aes256gcm", "aes":
		return entry.SuiteAESGCM, nil
	case "xchacha20-poly1305", "xchacha":
		return entry.SuiteXChaCha20Poly1305, nil
	default:
		return entry.SuiteNone, fmt.Errorf("crypt: unknown suite %q", name)
	}
}
