package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/leonardcser/shmkv/internal/engine"
)

// PutValue stores v under key as CBOR. A positive ttl expires the entry.
func PutValue[T any](kv KV, key string, v T, ttl time.Duration) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %T: %w", engine.ErrSerialization, v, err)
	}
	return kv.InsertWithTTL(key, data, ttl)
}

// GetValue loads the CBOR value stored under key into a T.
func GetValue[T any](kv KV, key string) (T, error) {
	var v T
	data, err := kv.Get(key)
	if err != nil {
		return v, err
	}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: decoding %T: %w", engine.ErrSerialization, v, err)
	}
	return v, nil
}

// GetOrLoad returns the value cached under key, or calls load and caches
// its result for ttl. A cached value that fails to decode is replaced.
// Errors from load are returned and nothing is cached; a failure to cache
// the loaded value is ignored.
func GetOrLoad[T any](kv KV, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	v, err := GetValue[T](kv, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, engine.ErrNotFound) && !errors.Is(err, engine.ErrSerialization) {
		return v, err
	}
	if v, err = load(); err != nil {
		return v, err
	}
	_ = PutValue(kv, key, v, ttl)
	return v, nil
}
