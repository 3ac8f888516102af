package cache

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds one exchange with the daemon, including the
// time the daemon spends waiting on a key's lock.
const DefaultRequestTimeout = 30 * time.Second

// Client implements Store over a Unix socket.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	timeout     time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, dialTimeout: 500 * time.Millisecond, timeout: DefaultRequestTimeout}
}

// WithTimeout sets the deadline for each request. Zero or less keeps the
// current timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Ping checks that a daemon is accepting connections.
func (c *Client) Ping() error {
	return c.withConn(func(net.Conn) error { return nil })
}

func (c *Client) withConn(fn func(conn net.Conn) error) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return fn(conn)
}

func (c *Client) roundTrip(req Request) (*Response, error) {
	req.ID = uuid.NewString()
	var resp Response
	err := c.withConn(func(conn net.Conn) error {
		if err := json.NewEncoder(conn).Encode(&req); err != nil {
			return err
		}
		if err := json.NewDecoder(conn).Decode(&resp); err != nil {
			return err
		}
		if resp.ID != req.ID {
			return fmt.Errorf("cache: response id %q does not match request %q", resp.ID, req.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, errorOf(&resp)
}

func (c *Client) Get(key string) ([]byte, error) {
	resp, err := c.roundTrip(Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return []byte{}, nil
	}
	return resp.Value, nil
}

func (c *Client) InsertWithTTL(key string, value []byte, ttl time.Duration) error {
	_, err := c.roundTrip(Request{Op: OpPut, Key: key, Value: value, TTLSeconds: ttl.Seconds()})
	return err
}

// Insert stores value under key with no expiry.
func (c *Client) Insert(key string, value []byte) error {
	return c.InsertWithTTL(key, value, 0)
}

func (c *Client) Remove(key string) error {
	_, err := c.roundTrip(Request{Op: OpDelete, Key: key})
	return err
}

func (c *Client) Keys() ([]string, error) {
	resp, err := c.roundTrip(Request{Op: OpKeys})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) PurgeExpired() (int, error) {
	resp, err := c.roundTrip(Request{Op: OpPurge})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}
