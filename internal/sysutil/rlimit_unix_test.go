//go:build linux || darwin

package sysutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRaiseFileLimit(t *testing.T) {
	var before unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &before))

	got, err := RaiseFileLimit(1)
	require.NoError(t, err)
	assert.Equal(t, before.Cur, got, "never lowers the limit")

	got, err = RaiseFileLimit(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, before.Cur)
	assert.LessOrEqual(t, got, before.Max)
}
