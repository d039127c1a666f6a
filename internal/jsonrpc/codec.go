// Package jsonrpc implements the newline-framed JSON-RPC 2.0 codec shared by
// the stdio-speaking backend adapters.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Version is the only JSON-RPC version the codec accepts.
const Version = "2.0"

// ErrInvalidVersion is returned when a decoded message carries a jsonrpc
// value other than "2.0".
var ErrInvalidVersion = errors.New("Invalid JSON-RPC version")

// Message is the wire shape of a JSON-RPC request, notification, or response.
// Requests carry ID and Method; notifications carry Method only; responses
// carry ID and exactly one of Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool { return m.ID != nil && m.Method != "" }

// IsNotification reports whether the message is a fire-and-forget call.
func (m *Message) IsNotification() bool { return m.ID == nil && m.Method != "" }

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool { return m.ID != nil && m.Method == "" }

// Codec creates framed JSON-RPC messages with monotonically increasing ids.
type Codec struct {
	nextID int64
}

// NewCodec creates a Codec. Ids start at 1.
func NewCodec() *Codec {
	return &Codec{}
}

// NextID allocates the next request id.
func (c *Codec) NextID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// Request builds a request message with a fresh id and returns the id.
func (c *Codec) Request(method string, params any) (Message, int64, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, 0, err
	}
	id := c.NextID()
	return Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, id, nil
}

// Notification builds a notification message.
func (c *Codec) Notification(method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// Response builds a success response for the given request id.
func (c *Codec) Response(id int64, result any) (Message, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// ErrorResponse builds an error response for the given request id.
func (c *Codec) ErrorResponse(id int64, code int, message string) Message {
	return Message{JSONRPC: Version, ID: &id, Error: &Error{Code: code, Message: message}}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// Encode marshals a message and appends the trailing newline frame delimiter.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one newline-framed message, rejecting any jsonrpc version
// other than "2.0".
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.JSONRPC != Version {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidVersion, m.JSONRPC)
	}
	return m, nil
}
