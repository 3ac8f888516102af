//go:build linux || darwin

package lock

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *FileLocker {
	t.Helper()
	l, err := NewFileLocker(filepath.Join(t.TempDir(), "locks"))
	require.NoError(t, err)
	return l
}

func TestFileLocker_MutualExclusion(t *testing.T) {
	l := newTestLocker(t)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g, err := l.Acquire("shared.lock")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
				assert.NoError(t, g.Release())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestFileLocker_TryAcquire(t *testing.T) {
	l := newTestLocker(t)

	held, err := l.Acquire("a.lock")
	require.NoError(t, err)

	t.Run("times out while held", func(t *testing.T) {
		start := time.Now()
		_, err := l.TryAcquire("a.lock", 30*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("zero timeout is one attempt", func(t *testing.T) {
		_, err := l.TryAcquire("a.lock", 0)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("other names are independent", func(t *testing.T) {
		g, err := l.TryAcquire("b.lock", 0)
		require.NoError(t, err)
		assert.NoError(t, g.Release())
	})

	t.Run("succeeds after release", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			held.Release()
		}()
		g, err := l.TryAcquire("a.lock", time.Second)
		require.NoError(t, err)
		assert.NoError(t, g.Release())
	})
}

func TestFileLocker_ReleaseTwice(t *testing.T) {
	l := newTestLocker(t)
	g, err := l.Acquire("x.lock")
	require.NoError(t, err)
	require.NoError(t, g.Release())
	assert.ErrorIs(t, g.Release(), ErrReleased)
	assert.ErrorIs(t, g.Retire(), ErrReleased)
}

func TestFileLocker_Retire(t *testing.T) {
	l := newTestLocker(t)
	path := filepath.Join(l.Dir(), "r.lock")

	g, err := l.Acquire("r.lock")
	require.NoError(t, err)

	acquired := make(chan Guard)
	go func() {
		g2, err := l.Acquire("r.lock")
		assert.NoError(t, err)
		acquired <- g2
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Retire())

	select {
	case g2 := <-acquired:
		// The waiter must hold a lock on a file that exists at path.
		_, err := os.Stat(path)
		assert.NoError(t, err)
		assert.NoError(t, g2.Retire())
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the retired lock")
	}

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileLocker_InvalidName(t *testing.T) {
	l := newTestLocker(t)
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00"} {
		_, err := l.Acquire(name)
		assert.ErrorIs(t, err, ErrFailure, name)
	}
}

// TestFileLocker_HolderDeath runs a child process that takes a lock and is
// then killed; the parent must be able to take the lock afterwards.
func TestFileLocker_HolderDeath(t *testing.T) {
	if os.Getenv("SHMKV_LOCK_CHILD") != "" {
		l, err := NewFileLocker(os.Getenv("SHMKV_LOCK_CHILD"))
		if err != nil {
			os.Exit(2)
		}
		if _, err := l.Acquire("dead.lock"); err != nil {
			os.Exit(3)
		}
		os.Stdout.WriteString("locked\n")
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	l := newTestLocker(t)
	cmd := exec.Command(os.Args[0], "-test.run=^TestFileLocker_HolderDeath$")
	cmd.Env = append(os.Environ(), "SHMKV_LOCK_CHILD="+l.Dir())
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)

	_, err = l.TryAcquire("dead.lock", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	g, err := l.TryAcquire("dead.lock", 5*time.Second)
	require.NoError(t, err)
	assert.NoError(t, g.Release())
}
