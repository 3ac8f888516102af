package cache

import (
	"errors"

	"github.com/leonardcser/shmkv/internal/engine"
)

// Simple JSON protocol for the store daemon over a Unix domain socket.
// Each request gets exactly one response carrying the same ID; a connection
// may carry any number of exchanges.

const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpKeys   = "keys"
	OpPurge  = "purge"
)

type Request struct {
	ID         string  `json:"id"`
	Op         string  `json:"op"` // "get" | "put" | "delete" | "keys" | "purge"
	Key        string  `json:"key,omitempty"`
	Value      []byte  `json:"value,omitempty"`
	TTLSeconds float64 `json:"ttl_seconds,omitempty"`
}

type Response struct {
	ID    string   `json:"id"`
	OK    bool     `json:"ok"`
	Value []byte   `json:"value,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	Count int      `json:"count,omitempty"`
	Code  string   `json:"code,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Error codes carried in Response.Code.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeLockTimeout   = "LOCK_TIMEOUT"
	CodeLockFailure   = "LOCK_FAILURE"
	CodeSegmentIO     = "SEGMENT_IO"
	CodeCorrupt       = "CORRUPT_FORMAT"
	CodeAuthFailed    = "AUTHENTICATION_FAILED"
	CodeSerialization = "SERIALIZATION"
	CodeKeyTooLarge   = "KEY_TOO_LARGE"
	CodeBadRequest    = "BAD_REQUEST"
	CodeInternal      = "INTERNAL"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeNotFound, engine.ErrNotFound},
	{CodeLockTimeout, engine.ErrLockTimeout},
	{CodeLockFailure, engine.ErrLockFailure},
	{CodeSegmentIO, engine.ErrSegmentIO},
	{CodeCorrupt, engine.ErrCorruptFormat},
	{CodeAuthFailed, engine.ErrAuthenticationFailed},
	{CodeSerialization, engine.ErrSerialization},
	{CodeKeyTooLarge, engine.ErrKeyTooLarge},
}

// ErrBadRequest is returned for requests the daemon cannot interpret.
var ErrBadRequest = errors.New("cache: bad request")

func codeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.Is(err, ErrBadRequest) {
		return CodeBadRequest
	}
	return CodeInternal
}

// remoteError is a daemon-side failure. It unwraps to the sentinel named
// by its code so callers can use errors.Is across the socket.
type remoteError struct {
	code string
	msg  string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error {
	for _, c := range codes {
		if c.code == e.code {
			return c.err
		}
	}
	if e.code == CodeBadRequest {
		return ErrBadRequest
	}
	return nil
}

func errorOf(resp *Response) error {
	if resp.OK {
		return nil
	}
	return &remoteError{code: resp.Code, msg: resp.Error}
}
