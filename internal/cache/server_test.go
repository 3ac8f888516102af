package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/shmkv/internal/engine"
)

func startServer(t *testing.T, store Store) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "shmkv.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- Serve(l, store, nil) }()
	t.Cleanup(func() {
		_ = l.Close()
		assert.NoError(t, <-done)
	})
	return sock
}

func TestClientServer_RoundTrip(t *testing.T) {
	store := newMemStore()
	c := NewClient(startServer(t, store))
	require.NoError(t, c.Ping())

	require.NoError(t, c.Insert("a", []byte("alpha")))
	require.NoError(t, c.InsertWithTTL("b", []byte{}, time.Minute))

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)

	got, err = c.Get("b")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, c.Remove("a"))
	require.NoError(t, c.Remove("a"), "removing a missing key succeeds")
	_, err = c.Get("a")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestClientServer_TTL(t *testing.T) {
	store := newMemStore()
	c := NewClient(startServer(t, store))

	require.NoError(t, c.InsertWithTTL("short", []byte("v"), 1500*time.Millisecond))
	require.NoError(t, c.InsertWithTTL("long", []byte("v"), time.Hour))

	store.advance(time.Second)
	_, err := c.Get("short")
	require.NoError(t, err)

	store.advance(time.Second)
	n, err := c.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Get("short")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = c.Get("long")
	assert.NoError(t, err)
}

func TestClientServer_ErrorCodes(t *testing.T) {
	sentinels := []error{
		engine.ErrNotFound,
		engine.ErrLockTimeout,
		engine.ErrLockFailure,
		engine.ErrSegmentIO,
		engine.ErrCorruptFormat,
		engine.ErrAuthenticationFailed,
		engine.ErrSerialization,
		engine.ErrKeyTooLarge,
	}
	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("%w: segment shmkv.x", sentinel)
			c := NewClient(startServer(t, failingStore{err: wrapped}))

			_, err := c.Get("k")
			assert.ErrorIs(t, err, sentinel)
			assert.Equal(t, wrapped.Error(), err.Error())

			assert.ErrorIs(t, c.Insert("k", nil), sentinel)
			assert.ErrorIs(t, c.Remove("k"), sentinel)
		})
	}

	t.Run("unknown error", func(t *testing.T) {
		c := NewClient(startServer(t, failingStore{err: fmt.Errorf("boom")}))
		_, err := c.Keys()
		require.Error(t, err)
		assert.Equal(t, "boom", err.Error())
		for _, sentinel := range sentinels {
			assert.NotErrorIs(t, err, sentinel)
		}
	})
}

func TestServer_RawProtocol(t *testing.T) {
	sock := startServer(t, newMemStore())
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	exchange := func(req Request) Response {
		t.Helper()
		require.NoError(t, enc.Encode(req))
		var resp Response
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, req.ID, resp.ID)
		return resp
	}

	// Several exchanges share one connection.
	resp := exchange(Request{ID: "1", Op: OpPut, Key: "k", Value: []byte("v")})
	assert.True(t, resp.OK)

	resp = exchange(Request{ID: "2", Op: OpGet, Key: "k"})
	assert.True(t, resp.OK)
	assert.Equal(t, []byte("v"), resp.Value)

	resp = exchange(Request{ID: "3", Op: "explode"})
	assert.False(t, resp.OK)
	assert.Equal(t, CodeBadRequest, resp.Code)

	resp = exchange(Request{ID: "4", Op: OpGet, Key: "missing"})
	assert.False(t, resp.OK)
	assert.Equal(t, CodeNotFound, resp.Code)

	resp = exchange(Request{ID: "5", Op: OpPut, Key: "k", TTLSeconds: 1e300})
	assert.Equal(t, CodeBadRequest, resp.Code)
}

func TestClientServer_Concurrent(t *testing.T) {
	c := NewClient(startServer(t, newMemStore()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			assert.NoError(t, c.Insert(key, []byte(key)))
			got, err := c.Get(key)
			assert.NoError(t, err)
			assert.Equal(t, []byte(key), got)
		}(i)
	}
	wg.Wait()

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}

func TestClient_NoDaemon(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	assert.Error(t, c.Ping())
	_, err := c.Get("k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrNotFound)
}

// blockingStore holds every Get until release is closed.
type blockingStore struct {
	*memStore
	release chan struct{}
}

func (s blockingStore) Get(key string) ([]byte, error) {
	<-s.release
	return s.memStore.Get(key)
}

func TestClient_RequestTimeout(t *testing.T) {
	store := blockingStore{memStore: newMemStore(), release: make(chan struct{})}
	sock := startServer(t, store)
	t.Cleanup(func() { close(store.release) })

	c := NewClient(sock).WithTimeout(100 * time.Millisecond)
	require.NoError(t, c.Insert("k", []byte("v")))

	start := time.Now()
	_, err := c.Get("k")
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
