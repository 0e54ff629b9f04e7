package replica

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// Ensure Link implements the replication port.
var _ checkpoint.Peer = (*Link)(nil)

// LinkState represents the connection state of a replication link.
type LinkState string

const (
	LinkStateConnected    LinkState = "connected"
	LinkStateDisconnected LinkState = "disconnected"
	LinkStateConnecting   LinkState = "connecting"
)

// Link is the client side of a replication pair: a WebSocket
// connection to the peer's Handler. Requests and responses are
// correlated by message ID so multiple replications can be in flight
// at once. A broken connection reconnects in the background with
// exponential backoff; requests issued while disconnected fail fast
// with ErrPeerUnavailable, which the checkpoint manager treats as a
// degradation, not an error.
type Link struct {
	url    string
	nodeID string
	logger *slog.Logger

	mu    sync.RWMutex
	conn  net.Conn
	state LinkState

	// pending tracks request-response correlation.
	pending sync.Map // msg ID → chan *Message

	reconnectBackoff time.Duration
	maxReconnect     time.Duration
	requestTimeout   time.Duration

	removed bool
	wg      sync.WaitGroup
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithNodeID sets the local node identity sent with every message.
func WithNodeID(nodeID string) LinkOption {
	return func(l *Link) { l.nodeID = nodeID }
}

// WithLinkLogger sets the link's logger.
func WithLinkLogger(logger *slog.Logger) LinkOption {
	return func(l *Link) { l.logger = logger }
}

// WithRequestTimeout bounds each wire request.
func WithRequestTimeout(d time.Duration) LinkOption {
	return func(l *Link) { l.requestTimeout = d }
}

// WithReconnectBackoff sets the initial and maximum reconnect delays.
func WithReconnectBackoff(initial, maxDelay time.Duration) LinkOption {
	return func(l *Link) {
		l.reconnectBackoff = initial
		l.maxReconnect = maxDelay
	}
}

// Dial connects to the peer's replication endpoint and starts the read
// loop.
func Dial(ctx context.Context, url string, opts ...LinkOption) (*Link, error) {
	l := &Link{
		url:              url,
		logger:           slog.Default(),
		state:            LinkStateDisconnected,
		reconnectBackoff: 2 * time.Second,
		maxReconnect:     60 * time.Second,
		requestTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.connect(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// State returns the current connection state.
func (l *Link) State() LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Close tears down the link. No reconnect is attempted afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	l.removed = true
	conn := l.conn
	l.conn = nil
	l.state = LinkStateDisconnected
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	l.wg.Wait()
	return nil
}

// ──────────────────────────────────────────────────
// Replication port
// ──────────────────────────────────────────────────

// Replicate sends a record to the peer and waits for its
// acknowledgement.
func (l *Link) Replicate(ctx context.Context, key string, seq uint64, data []byte) error {
	resp, err := l.request(ctx, &Message{
		Type:     MsgRequest,
		Method:   MethodReplicate,
		Key:      key,
		Sequence: seq,
		Data:     data,
	})
	if err != nil {
		return err
	}
	if resp.Type == MsgError {
		return fmt.Errorf("replica: peer rejected %s seq=%d: %s", key, seq, resp.Error)
	}
	return nil
}

// PullPending fetches the peer's full retained record set.
func (l *Link) PullPending(ctx context.Context) ([]*checkpoint.Record, error) {
	resp, err := l.request(ctx, &Message{Type: MsgRequest, Method: MethodPull})
	if err != nil {
		return nil, err
	}
	if resp.Type == MsgError {
		return nil, fmt.Errorf("replica: peer pull failed: %s", resp.Error)
	}

	records := make([]*checkpoint.Record, 0, len(resp.Records))
	for _, wr := range resp.Records {
		records = append(records, &checkpoint.Record{
			InstanceKey: wr.Key,
			Sequence:    wr.Sequence,
			Data:        wr.Data,
			CreatedAt:   wr.CreatedAt,
		})
	}
	return records, nil
}

// Drop asks the peer to delete its record for key.
func (l *Link) Drop(ctx context.Context, key string) error {
	resp, err := l.request(ctx, &Message{Type: MsgRequest, Method: MethodDrop, Key: key})
	if err != nil {
		return err
	}
	if resp.Type == MsgError {
		return fmt.Errorf("replica: peer drop %s failed: %s", key, resp.Error)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Connection management
// ──────────────────────────────────────────────────

func (l *Link) connect(ctx context.Context) error {
	l.mu.Lock()
	l.state = LinkStateConnecting
	l.mu.Unlock()

	conn, _, _, err := ws.Dial(ctx, l.url)
	if err != nil {
		l.mu.Lock()
		l.state = LinkStateDisconnected
		l.mu.Unlock()
		return fmt.Errorf("%w: dial %q: %v", skein.ErrPeerUnavailable, l.url, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.state = LinkStateConnected
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop()
	}()

	l.logger.Info("replication link connected", slog.String("url", l.url))
	return nil
}

func (l *Link) readLoop() {
	for {
		l.mu.RLock()
		conn := l.conn
		state := l.state
		l.mu.RUnlock()

		if conn == nil || state != LinkStateConnected {
			return
		}

		data, err := wsutil.ReadServerBinary(conn)
		if err != nil {
			l.mu.Lock()
			removed := l.removed
			l.state = LinkStateDisconnected
			l.mu.Unlock()

			if removed {
				return
			}

			l.logger.Warn("replication link read error",
				slog.String("url", l.url),
				slog.String("error", err.Error()),
			)

			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.reconnect()
			}()
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			continue
		}

		if msg.Type == MsgResponse || msg.Type == MsgError {
			if val, ok := l.pending.LoadAndDelete(msg.CorrelID); ok {
				ch := val.(chan *Message) //nolint:errcheck // pending map always stores chan *Message
				ch <- msg
			}
		}
	}
}

func (l *Link) reconnect() {
	backoff := l.reconnectBackoff
	for {
		l.mu.RLock()
		removed := l.removed
		state := l.state
		l.mu.RUnlock()

		if removed || state == LinkStateConnected {
			return
		}

		l.logger.Info("replication link reconnecting",
			slog.String("url", l.url),
			slog.Duration("backoff", backoff),
		)

		time.Sleep(backoff)

		if err := l.connect(context.Background()); err != nil {
			backoff = min(backoff*2, l.maxReconnect)
			continue
		}
		return
	}
}

// ──────────────────────────────────────────────────
// Request/response
// ──────────────────────────────────────────────────

func (l *Link) request(ctx context.Context, msg *Message) (*Message, error) {
	l.mu.RLock()
	conn := l.conn
	state := l.state
	l.mu.RUnlock()

	if conn == nil || state != LinkStateConnected {
		return nil, skein.ErrPeerUnavailable
	}

	msg.ID = nextMsgID()
	msg.NodeID = l.nodeID

	data, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	l.pending.Store(msg.ID, ch)
	defer l.pending.Delete(msg.ID)

	if err := wsutil.WriteClientBinary(conn, data); err != nil {
		return nil, fmt.Errorf("%w: write: %v", skein.ErrPeerUnavailable, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(l.requestTimeout):
		return nil, fmt.Errorf("%w: request timed out", skein.ErrPeerUnavailable)
	}
}
