package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"go.uber.org/zap"
)

// Serve accepts connections on l and answers requests against store until
// l is closed. Each connection is handled in its own goroutine.
func Serve(l net.Listener, store Store, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warnw("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go handleConn(conn, store, log)
	}
}

func handleConn(conn net.Conn, store Store, log *zap.SugaredLogger) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := handle(store, &req)
		if !resp.OK {
			log.Debugw("request failed", "id", req.ID, "op", req.Op, "code", resp.Code, "error", resp.Error)
		}
		if err := enc.Encode(resp); err != nil {
			log.Warnw("writing response", "id", req.ID, "error", err)
			return
		}
	}
}

func handle(store Store, req *Request) *Response {
	resp := &Response{ID: req.ID}
	var err error
	switch req.Op {
	case OpGet:
		resp.Value, err = store.Get(req.Key)
	case OpPut:
		var ttl time.Duration
		ttl, err = ttlOf(req.TTLSeconds)
		if err == nil {
			err = store.InsertWithTTL(req.Key, req.Value, ttl)
		}
	case OpDelete:
		err = store.Remove(req.Key)
	case OpKeys:
		resp.Keys, err = store.Keys()
		resp.Count = len(resp.Keys)
	case OpPurge:
		resp.Count, err = store.PurgeExpired()
	default:
		err = fmt.Errorf("%w: unknown op %q", ErrBadRequest, req.Op)
	}
	if err != nil {
		return &Response{ID: req.ID, Code: codeOf(err), Error: err.Error()}
	}
	resp.OK = true
	return resp
}

func ttlOf(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.Abs(seconds) > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%w: ttl_seconds out of range", ErrBadRequest)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
