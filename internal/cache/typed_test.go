package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/shmkv/internal/engine"
)

type session struct {
	User    string
	Roles   []string
	Expires time.Time
}

func TestTypedValues(t *testing.T) {
	store := newMemStore()

	want := session{User: "ada", Roles: []string{"admin"}, Expires: time.Unix(1_800_000_000, 0).UTC()}
	require.NoError(t, PutValue(store, "session", want, time.Minute))

	got, err := GetValue[session](store, "session")
	require.NoError(t, err)
	assert.Equal(t, want.User, got.User)
	assert.Equal(t, want.Roles, got.Roles)
	assert.True(t, want.Expires.Equal(got.Expires))

	require.NoError(t, PutValue(store, "count", 42, 0))
	n, err := GetValue[int](store, "count")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestTypedValues_Errors(t *testing.T) {
	store := newMemStore()

	_, err := GetValue[session](store, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, store.InsertWithTTL("text", []byte("not cbor"), 0))
	_, err = GetValue[session](store, "text")
	assert.ErrorIs(t, err, engine.ErrSerialization)

	err = PutValue(store, "chan", make(chan int), 0)
	assert.ErrorIs(t, err, engine.ErrSerialization)
}

func TestGetOrLoad(t *testing.T) {
	store := newMemStore()
	calls := 0
	load := func() (session, error) {
		calls++
		return session{User: "grace"}, nil
	}

	got, err := GetOrLoad(store, "s", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "grace", got.User)

	got, err = GetOrLoad(store, "s", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "grace", got.User)
	assert.Equal(t, 1, calls, "the second call is served from the store")

	store.advance(time.Minute)
	_, err = GetOrLoad(store, "s", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "an expired value is loaded again")

	require.NoError(t, store.InsertWithTTL("junk", []byte{0xff}, 0))
	_, err = GetOrLoad(store, "junk", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	cached, err := GetValue[session](store, "junk")
	require.NoError(t, err)
	assert.Equal(t, "grace", cached.User)

	boom := errors.New("boom")
	_, err = GetOrLoad(store, "fails", 0, func() (session, error) { return session{}, boom })
	assert.ErrorIs(t, err, boom)
	_, err = store.Get("fails")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
