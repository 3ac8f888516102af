package cmd

import (
	"errors"
	"fmt"

	"github.com/leonardcser/shmkv/internal/cache"
	"github.com/leonardcser/shmkv/internal/engine"
)

// Exit codes returned by the shmkv binary.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitAuth     = 2 // Entry failed authentication
	ExitLock     = 3 // Lock timed out or failed
	ExitNotFound = 4 // Key doesn't exist
	ExitUsage    = 64
)

// CLIError is an error with a user-facing hint and the process exit code.
type CLIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
	ExitCode int    `json:"-"`
	err      error
}

// Error implements the error interface.
func (e *CLIError) Error() string { return e.Message }

func (e *CLIError) Unwrap() error { return e.err }

// classify turns an engine or daemon error into a CLIError.
func classify(err error) *CLIError {
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	out := &CLIError{Code: cache.CodeInternal, Message: err.Error(), ExitCode: ExitGeneral, err: err}
	switch {
	case errors.Is(err, engine.ErrNotFound):
		out.Code, out.ExitCode = cache.CodeNotFound, ExitNotFound
	case errors.Is(err, engine.ErrLockTimeout):
		out.Code, out.ExitCode = cache.CodeLockTimeout, ExitLock
		out.Hint = "Another process holds the key's lock; retry or raise lock_timeout"
	case errors.Is(err, engine.ErrLockFailure):
		out.Code, out.ExitCode = cache.CodeLockFailure, ExitLock
		out.Hint = "Check that the lock directory exists and is writable"
	case errors.Is(err, engine.ErrAuthenticationFailed):
		out.Code, out.ExitCode = cache.CodeAuthFailed, ExitAuth
		out.Hint = "The entry was written with another master key or has been tampered with"
	case errors.Is(err, engine.ErrCorruptFormat):
		out.Code = cache.CodeCorrupt
		out.Hint = "Remove the key with 'shmkv rm' and write it again"
	case errors.Is(err, engine.ErrSegmentIO):
		out.Code = cache.CodeSegmentIO
		out.Hint = "Check that the shared-memory directory exists and has space"
	}
	return out
}

func notFound(key string) *CLIError {
	return &CLIError{
		Code:     cache.CodeNotFound,
		Message:  fmt.Sprintf("key %q not found", key),
		ExitCode: ExitNotFound,
		err:      engine.ErrNotFound,
	}
}

func needsEngine(op string) *CLIError {
	return &CLIError{
		Code:     cache.CodeBadRequest,
		Message:  fmt.Sprintf("%s is not available through the daemon", op),
		Hint:     "Run without --socket on a host that can reach the shared-memory directory",
		ExitCode: ExitUsage,
	}
}
