package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/teng-lin/beamcode/internal/logging"
)

// DefaultCallTimeout bounds how long a request waits for its response.
const DefaultCallTimeout = 60 * time.Second

// Handler reacts to peer-initiated traffic. OnRequest's result is sent back
// as the response; returning an error produces an error response.
type Handler interface {
	OnNotification(method string, params json.RawMessage)
	OnRequest(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Conn pumps newline-framed JSON-RPC messages over a reader/writer pair and
// correlates responses to in-flight requests by id.
type Conn struct {
	codec   *Codec
	writer  io.Writer
	handler Handler
	timeout time.Duration

	mu      sync.Mutex
	pending map[int64]chan Message
	closed  bool

	done chan struct{}
}

// NewConn creates a Conn over r/w and starts the read loop. The handler may
// be nil when the peer never initiates traffic.
func NewConn(r io.Reader, w io.Writer, handler Handler, timeout time.Duration) *Conn {
	if timeout < DefaultCallTimeout {
		timeout = DefaultCallTimeout
	}
	c := &Conn{
		codec:   NewCodec(),
		writer:  w,
		handler: handler,
		timeout: timeout,
		pending: make(map[int64]chan Message),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Codec exposes the connection's id-allocating codec.
func (c *Conn) Codec() *Codec { return c.codec }

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line)
		if err != nil {
			logging.Warn().Err(err).Msg("dropping malformed jsonrpc frame")
			continue
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *Conn) dispatch(msg Message) {
	switch {
	case msg.IsResponse():
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case msg.IsNotification():
		if c.handler != nil {
			c.handler.OnNotification(msg.Method, msg.Params)
		}
	case msg.IsRequest():
		go c.serveRequest(msg)
	}
}

func (c *Conn) serveRequest(msg Message) {
	if c.handler == nil {
		_ = c.write(c.codec.ErrorResponse(*msg.ID, -32601, "method not found: "+msg.Method))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := c.handler.OnRequest(ctx, msg.Method, msg.Params)
	if err != nil {
		_ = c.write(c.codec.ErrorResponse(*msg.ID, -32000, err.Error()))
		return
	}
	resp, err := c.codec.Response(*msg.ID, result)
	if err != nil {
		_ = c.write(c.codec.ErrorResponse(*msg.ID, -32603, err.Error()))
		return
	}
	_ = c.write(resp)
}

// Call sends a request and waits for its response, the context, or the call
// timeout, whichever comes first.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	msg, id, err := c.codec.Request(method, params)
	if err != nil {
		return err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("call %s: connection closed", method)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("call %s: connection closed", method)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("call %s: timed out after %s", method, c.timeout)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	msg, err := c.codec.Notification(method, params)
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *Conn) write(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("write: connection closed")
	}
	_, err = c.writer.Write(data)
	return err
}

// Done is closed when the read side of the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }
