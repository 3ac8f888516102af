//go:build linux

package shm

import (
	"bytes"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissing(t *testing.T) {
	_, err := Open(Path(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = View(Path(t.TempDir(), "missing"), func([]byte) error {
		t.Fatal("fn called for a missing object")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenOrCreate(t *testing.T) {
	path := Path(t.TempDir(), "seg")

	seg, err := OpenOrCreate(path, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, seg.Size())
	assert.Len(t, seg.ReadBytes(), 128)
	copy(seg.data, "hello")
	require.NoError(t, seg.Close())

	// Reopening never shrinks below the existing size.
	seg, err = OpenOrCreate(path, 16)
	require.NoError(t, err)
	assert.Equal(t, 128, seg.Size())
	assert.True(t, bytes.HasPrefix(seg.ReadBytes(), []byte("hello")))
	require.NoError(t, seg.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestResize(t *testing.T) {
	path := Path(t.TempDir(), "seg")
	seg, err := OpenOrCreate(path, 8)
	require.NoError(t, err)
	defer seg.Close()

	copy(seg.data, "abcdefgh")

	t.Run("grow keeps prefix", func(t *testing.T) {
		require.NoError(t, seg.Resize(1<<20))
		assert.Equal(t, 1<<20, seg.Size())
		assert.Equal(t, []byte("abcdefgh"), seg.data[:8])
		assert.Equal(t, byte(0), seg.data[1<<20-1])
	})

	t.Run("shrink", func(t *testing.T) {
		require.NoError(t, seg.Resize(4))
		assert.Equal(t, []byte("abcd"), seg.ReadBytes())
	})

	t.Run("to zero", func(t *testing.T) {
		require.NoError(t, seg.Resize(0))
		assert.Empty(t, seg.ReadBytes())
	})
}

func TestReadOnlyResize(t *testing.T) {
	path := Path(t.TempDir(), "seg")
	require.NoError(t, Update(path, 4, func(data []byte) error {
		copy(data, "data")
		return nil
	}))

	seg, err := Open(path)
	require.NoError(t, err)
	defer seg.Close()
	assert.Error(t, seg.Resize(8))
}

func TestUpdateAndView(t *testing.T) {
	path := Path(t.TempDir(), "seg")

	require.NoError(t, Update(path, 10, func(data []byte) error {
		require.Len(t, data, 10)
		copy(data, "0123456789")
		return nil
	}))

	// Shrinking rewrite: no trailing bytes from the previous contents.
	require.NoError(t, Update(path, 3, func(data []byte) error {
		copy(data, "xyz")
		return nil
	}))

	var got []byte
	require.NoError(t, View(path, func(data []byte) error {
		got = append(got, data...)
		return nil
	}))
	assert.Equal(t, []byte("xyz"), got)
}

func TestDestroy(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "seg")
	require.NoError(t, Update(path, 1, func([]byte) error { return nil }))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg"}, names)

	require.NoError(t, Destroy(path))
	require.NoError(t, Destroy(path))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/dev/shm/x", Path("", "x"))
	assert.Equal(t, "/tmp/y/x", Path("/tmp/y", "x"))
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestScopedHelpersReleaseOnPanic(t *testing.T) {
	path := Path(t.TempDir(), "seg")
	require.NoError(t, Update(path, 64, func(data []byte) error { return nil }))

	before := openFDs(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = View(path, func([]byte) error { panic("boom") })
	})
	assert.Equal(t, before, openFDs(t), "View leaked a descriptor")

	assert.PanicsWithValue(t, "boom", func() {
		_ = Update(path, 128, func([]byte) error { panic("boom") })
	})
	assert.Equal(t, before, openFDs(t), "Update leaked a descriptor")
}

func TestUpdateResizeFailureCloses(t *testing.T) {
	path := Path(t.TempDir(), "seg")
	before := openFDs(t)

	err := Update(path, -1, func([]byte) error {
		t.Fatal("fn called after a failed resize")
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, before, openFDs(t))
}

func TestGrowReservesSpace(t *testing.T) {
	orig := fallocate
	t.Cleanup(func() { fallocate = orig })
	fallocate = func(fd int, mode uint32, off, size int64) error { return unix.ENOSPC }

	dir := t.TempDir()

	_, err := OpenOrCreate(Path(dir, "new"), 4096)
	assert.ErrorIs(t, err, unix.ENOSPC)

	path := Path(dir, "seg")
	fallocate = orig
	seg, err := OpenOrCreate(path, 16)
	require.NoError(t, err)
	defer seg.Close()

	fallocate = func(fd int, mode uint32, off, size int64) error { return unix.ENOSPC }
	err = seg.Resize(1 << 20)
	assert.ErrorIs(t, err, unix.ENOSPC)

	// The object is put back at its old size.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size())

	// Shrinking needs no reservation.
	require.NoError(t, seg.Resize(8))
	assert.Equal(t, 8, seg.Size())
}

func TestGrowUnsupportedFallocate(t *testing.T) {
	orig := fallocate
	t.Cleanup(func() { fallocate = orig })
	fallocate = func(fd int, mode uint32, off, size int64) error { return unix.EOPNOTSUPP }

	seg, err := OpenOrCreate(Path(t.TempDir(), "seg"), 256)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, 256, seg.Size())
}
