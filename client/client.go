// Package client is the caller side of the agent protocol: it frames and
// serializes command requests, sends them to one agent, and decodes the
// response. This is what a control machine links against to manage a remote
// host programmatically.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"hostagent/codec"
	"hostagent/message"
	"hostagent/protocol"
)

// CallError is a command failure reported by the agent. The connection that
// carried it remains usable: one failed command does not poison the
// session.
type CallError struct {
	Kind    message.ErrorKind
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client issues commands to a single agent over pooled TCP connections.
// Safe for concurrent use.
type Client struct {
	pool  *connPool
	codec codec.Codec
	seq   atomic.Uint32
}

// Option configures a Client.
type Option func(*options)

type options struct {
	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration
}

// WithCodec selects the frame serialization format (JSON by default).
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codecType = ct }
}

// WithPoolSize caps the number of pooled connections (default 4).
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithDialTimeout bounds connection establishment (default 10s).
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// New creates a client for the agent at addr. Connections are dialed
// lazily, so New does not verify the agent is reachable.
func New(addr string, opts ...Option) *Client {
	o := options{
		codecType:   codec.CodecTypeJSON,
		poolSize:    4,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		pool: newConnPool(o.poolSize, func() (net.Conn, error) {
			return net.DialTimeout("tcp", addr, o.dialTimeout)
		}),
		codec: codec.GetCodec(o.codecType),
	}
}

// Call executes one command on the agent: args are serialized into the
// request payload, and the response payload is deserialized into reply
// (which may be nil if the caller does not care about the result). Agent-
// reported failures are returned as *CallError; transport faults as plain
// errors.
func (c *Client) Call(ctx context.Context, command string, args any, reply any) error {
	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal arguments: %w", err)
		}
	}

	body, err := c.codec.Encode(&message.Request{Command: command, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	conn, err := c.pool.get(ctx)
	if err != nil {
		return err
	}
	defer c.pool.put(conn)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	seq := c.seq.Add(1)
	header := protocol.Header{
		CodecType: byte(c.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		conn.unusable = true
		return fmt.Errorf("write request: %w", err)
	}

	replyHeader, replyBody, err := protocol.Decode(conn)
	if err != nil {
		conn.unusable = true
		return fmt.Errorf("read response: %w", err)
	}
	// The protocol is strictly sequential per connection, so a mismatched
	// seq means the stream is corrupt.
	if replyHeader.Seq != seq || replyHeader.MsgType != protocol.MsgTypeResponse {
		conn.unusable = true
		return fmt.Errorf("out-of-sequence response: got seq %d, want %d", replyHeader.Seq, seq)
	}

	var resp message.Response
	if err := c.codec.Decode(replyBody, &resp); err != nil {
		conn.unusable = true
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK() {
		return &CallError{Kind: resp.Kind, Message: resp.Error}
	}
	if reply != nil {
		if err := json.Unmarshal(resp.Payload, reply); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Ping sends a heartbeat frame. Heartbeats are not answered; a nil error
// only means the write succeeded.
func (c *Client) Ping() error {
	conn, err := c.pool.get(context.Background())
	if err != nil {
		return err
	}
	defer c.pool.put(conn)

	header := protocol.Header{
		CodecType: byte(c.codec.Type()),
		MsgType:   protocol.MsgTypeHeartbeat,
		Seq:       c.seq.Add(1),
	}
	if err := protocol.Encode(conn, &header, nil); err != nil {
		conn.unusable = true
		return err
	}
	return nil
}

// Close closes pooled connections.
func (c *Client) Close() error {
	return c.pool.closeAll()
}
