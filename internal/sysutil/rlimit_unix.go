//go:build linux || darwin

// Package sysutil holds process start-up helpers.
package sysutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseFileLimit raises the soft RLIMIT_NOFILE towards want, capped at the
// hard limit, and returns the resulting soft limit. Every live segment and
// every held lock costs a descriptor. want == 0 raises to the hard limit.
// The limit is never lowered.
func RaiseFileLimit(want uint64) (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	target := lim.Max
	if want != 0 && want < target {
		target = want
	}
	if target <= lim.Cur {
		return lim.Cur, nil
	}
	lim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("setrlimit: %w", err)
	}
	return lim.Cur, nil
}
