// Package entry defines the binary record stored in one shared-memory
// segment: a fixed header followed by the key, the cipher nonce and the
// payload.
//
// Layout, big endian:
//
//	0   4  magic "SHKV"
//	4   1  format version
//	5   1  flags (bit 0: has expiry)
//	6   1  cipher suite
//	7   1  nonce length
//	8   8  expires at, unix nanoseconds
//	16  4  key length
//	20  8  payload length
//	28     key | nonce | payload
//
// Bytes after the payload are ignored.
package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// Magic marks a segment written by this package.
	Magic = "SHKV"
	// Version is the current format version.
	Version = 1
	// HeaderSize is the size of the fixed header.
	HeaderSize = 28
	// MaxKeySize is the longest key the 32-bit length field can record.
	MaxKeySize = math.MaxUint32
)

const (
	offVersion    = 4
	offFlags      = 5
	offSuite      = 6
	offNonceLen   = 7
	offExpiresAt  = 8
	offKeyLen     = 16
	offPayloadLen = 20

	flagExpiry = 1 << 0
)

var (
	// ErrCorrupt is returned when bytes do not decode as an entry.
	ErrCorrupt = errors.New("entry: corrupt format")
	// ErrKeyTooLarge is returned for keys longer than MaxKeySize.
	ErrKeyTooLarge = errors.New("entry: key too large")
)

// CheckKey reports whether key fits the format's key length field.
func CheckKey(key string) error {
	return checkKeyLen(uint64(len(key)), MaxKeySize)
}

func checkKeyLen(n, limit uint64) error {
	if n > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLarge, n, limit)
	}
	return nil
}

// Suite identifies how a payload is sealed.
type Suite uint8

const (
	SuiteNone Suite = iota
	SuiteAESGCM
	SuiteXChaCha20Poly1305
)

// NonceSize returns the nonce length the suite requires, or -1 for an
// unknown suite.
func (s Suite) NonceSize() int {
	switch s {
	case SuiteNone:
		return 0
	case SuiteAESGCM:
		return 12
	case SuiteXChaCha20Poly1305:
		return 24
	default:
		return -1
	}
}

func (s Suite) String() string {
	switch s {
	case SuiteNone:
		return "none"
	case SuiteAESGCM:
		return "aes-256-gcm"
	case SuiteXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("suite(%d)", uint8(s))
	}
}

// Header is the metadata stored ahead of the payload.
type Header struct {
	Suite     Suite
	Nonce     []byte
	ExpiresAt time.Time // zero means no expiry
	Key       string
}

// Entry is one decoded record.
type Entry struct {
	Header
	Payload []byte
}

// Sealed reports whether the payload is ciphertext.
func (h *Header) Sealed() bool { return h.Suite != SuiteNone }

// Expired reports whether the entry is past its expiry at now.
func (h *Header) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// AssociatedData returns the header bytes that authenticate a sealed payload:
// magic, version, flags, suite, expiry and key. The nonce and lengths are
// covered implicitly by the AEAD.
func (h *Header) AssociatedData() []byte {
	buf := make([]byte, 0, 16+len(h.Key))
	buf = append(buf, Magic...)
	buf = append(buf, Version, h.flags(), byte(h.Suite))
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.expiresAtNanos()))
	buf = append(buf, h.Key...)
	return buf
}

func (h *Header) flags() byte {
	if h.ExpiresAt.IsZero() {
		return 0
	}
	return flagExpiry
}

func (h *Header) expiresAtNanos() int64 {
	if h.ExpiresAt.IsZero() {
		return 0
	}
	return h.ExpiresAt.UnixNano()
}

// Size returns the encoded length of e.
func (e *Entry) Size() int {
	return HeaderSize + len(e.Key) + len(e.Nonce) + len(e.Payload)
}

// Encode returns the binary form of e. The key must pass CheckKey.
func Encode(e *Entry) []byte {
	buf := make([]byte, e.Size())
	copy(buf, Magic)
	buf[offVersion] = Version
	buf[offFlags] = e.flags()
	buf[offSuite] = byte(e.Suite)
	buf[offNonceLen] = byte(len(e.Nonce))
	binary.BigEndian.PutUint64(buf[offExpiresAt:], uint64(e.expiresAtNanos()))
	binary.BigEndian.PutUint32(buf[offKeyLen:], uint32(len(e.Key)))
	binary.BigEndian.PutUint64(buf[offPayloadLen:], uint64(len(e.Payload)))
	off := HeaderSize
	off += copy(buf[off:], e.Key)
	off += copy(buf[off:], e.Nonce)
	copy(buf[off:], e.Payload)
	return buf
}

// Decode parses an entry from the start of buf. The result does not alias
// buf.
func Decode(buf []byte) (*Entry, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrCorrupt, len(buf), HeaderSize)
	}
	if string(buf[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[:len(Magic)])
	}
	if v := buf[offVersion]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	flags := buf[offFlags]
	if flags&^flagExpiry != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, flags)
	}
	suite := Suite(buf[offSuite])
	nonceLen := int(buf[offNonceLen])
	if want := suite.NonceSize(); want < 0 {
		return nil, fmt.Errorf("%w: unknown cipher suite %d", ErrCorrupt, suite)
	} else if nonceLen != want {
		return nil, fmt.Errorf("%w: nonce length %d for %s", ErrCorrupt, nonceLen, suite)
	}

	expires := int64(binary.BigEndian.Uint64(buf[offExpiresAt:]))
	keyLen := uint64(binary.BigEndian.Uint32(buf[offKeyLen:]))
	payloadLen := binary.BigEndian.Uint64(buf[offPayloadLen:])
	avail := uint64(len(buf) - HeaderSize)
	if keyLen > avail || uint64(nonceLen) > avail-keyLen || payloadLen > avail-keyLen-uint64(nonceLen) {
		return nil, fmt.Errorf("%w: lengths exceed %d byte segment", ErrCorrupt, len(buf))
	}

	e := &Entry{Header: Header{Suite: suite}}
	if flags&flagExpiry != 0 {
		e.ExpiresAt = time.Unix(0, expires)
	} else if expires != 0 {
		return nil, fmt.Errorf("%w: expiry set without flag", ErrCorrupt)
	}
	off := uint64(HeaderSize)
	e.Key = string(buf[off : off+keyLen])
	off += keyLen
	if nonceLen > 0 {
		e.Nonce = append([]byte(nil), buf[off:off+uint64(nonceLen)]...)
	}
	off += uint64(nonceLen)
	e.Payload = append([]byte{}, buf[off:off+payloadLen]...)
	return e, nil
}

// Commit copies an encoded entry into dst, a mapped segment of exactly
// len(encoded) bytes. The magic is cleared before the body is copied and
// written last, so a writer that dies mid-copy leaves bytes that Decode
// rejects rather than a plausible entry.
func Commit(dst, encoded []byte) error {
	if len(dst) != len(encoded) {
		return fmt.Errorf("entry: commit %d bytes into %d byte segment", len(encoded), len(dst))
	}
	if len(encoded) < HeaderSize {
		return fmt.Errorf("entry: commit of %d bytes is shorter than a header", len(encoded))
	}
	clear(dst[:len(Magic)])
	copy(dst[len(Magic):], encoded[len(Magic):])
	copy(dst, encoded[:len(Magic)])
	return nil
}
