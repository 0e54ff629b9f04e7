// Package replica implements the replication port: peers that durably
// store a copy of this node's checkpoints. Two implementations are
// provided — Loopback for in-process pairs and tests, and a
// WebSocket-based Link/Handler pair for real process pairs.
package replica

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgType discriminates wire messages.
type MsgType string

const (
	MsgRequest  MsgType = "req"
	MsgResponse MsgType = "resp"
	MsgError    MsgType = "err"
)

// Wire methods.
const (
	MethodReplicate = "replicate"
	MethodPull      = "pull"
	MethodDrop      = "drop"
	MethodPing      = "ping"
)

// WireRecord is one checkpoint record on the wire.
type WireRecord struct {
	Key       string    `msgpack:"k"`
	Sequence  uint64    `msgpack:"q"`
	Data      []byte    `msgpack:"d"`
	CreatedAt time.Time `msgpack:"t"`
}

// Message is the replication wire envelope. Requests and responses are
// correlated by ID; a response carries the request's ID in CorrelID.
type Message struct {
	ID       uint64  `msgpack:"id"`
	CorrelID uint64  `msgpack:"cid,omitempty"`
	Type     MsgType `msgpack:"ty"`
	Method   string  `msgpack:"m,omitempty"`

	// Replicate / Drop payload.
	Key      string `msgpack:"k,omitempty"`
	Sequence uint64 `msgpack:"q,omitempty"`
	Data     []byte `msgpack:"d,omitempty"`

	// Pull response payload.
	Records []WireRecord `msgpack:"rs,omitempty"`

	// Error payload.
	Error string `msgpack:"e,omitempty"`

	// Sender identity, for logging.
	NodeID string `msgpack:"n,omitempty"`
}

var msgID atomic.Uint64

// nextMsgID returns a process-unique message ID.
func nextMsgID() uint64 { return msgID.Add(1) }

// encodeMessage serializes a wire message.
func encodeMessage(m *Message) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("replica: encode message: %w", err)
	}
	return data, nil
}

// decodeMessage deserializes a wire message.
func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("replica: decode message: %w", err)
	}
	return &m, nil
}
