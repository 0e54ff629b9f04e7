package replica

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// Handler is the server side of a replication pair. It upgrades
// incoming connections to WebSocket and serves the peer's Replicate,
// PullPending, and Drop requests against the local checkpoint store.
//
// Mount it on any mux:
//
//	http.Handle("/replica", replica.NewHandler(store))
type Handler struct {
	store  checkpoint.Store
	logger *slog.Logger
	nodeID string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithHandlerNodeID sets the node identity sent in responses.
func WithHandlerNodeID(nodeID string) HandlerOption {
	return func(h *Handler) { h.nodeID = nodeID }
}

// NewHandler creates a replication handler over the given store.
func NewHandler(store checkpoint.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection and serves replication requests
// until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("replication upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("replication peer connected", slog.String("remote", r.RemoteAddr))

	// The connection is hijacked; it outlives the request context.
	go h.serve(context.Background(), conn)
}

func (h *Handler) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientBinary(conn)
		if err != nil {
			h.logger.Debug("replication peer disconnected", slog.String("error", err.Error()))
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			h.logger.Warn("undecodable replication message", slog.String("error", err.Error()))
			continue
		}
		if msg.Type != MsgRequest {
			continue
		}

		resp := h.dispatch(ctx, msg)
		out, err := encodeMessage(resp)
		if err != nil {
			h.logger.Error("encode replication response failed", slog.String("error", err.Error()))
			continue
		}

		if err := wsutil.WriteServerBinary(conn, out); err != nil {
			h.logger.Warn("replication write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// dispatch serves one request and builds its response.
func (h *Handler) dispatch(ctx context.Context, msg *Message) *Message {
	resp := &Message{
		ID:       nextMsgID(),
		CorrelID: msg.ID,
		Type:     MsgResponse,
		NodeID:   h.nodeID,
	}

	switch msg.Method {
	case MethodReplicate:
		err := h.store.PutCheckpoint(ctx, msg.Key, msg.Sequence, msg.Data)
		// A record already held at the same or higher sequence counts
		// as acknowledged: replication is idempotent per (key, seq).
		if err != nil && !errors.Is(err, skein.ErrStaleSequence) {
			resp.Type = MsgError
			resp.Error = err.Error()
			return resp
		}

		h.logger.Debug("replicated checkpoint",
			slog.String("instance", msg.Key),
			slog.Uint64("sequence", msg.Sequence),
			slog.String("from", msg.NodeID),
		)

	case MethodPull:
		records, err := h.store.GetAllPending(ctx)
		if err != nil {
			resp.Type = MsgError
			resp.Error = err.Error()
			return resp
		}

		resp.Records = make([]WireRecord, 0, len(records))
		for _, rec := range records {
			resp.Records = append(resp.Records, WireRecord{
				Key:       rec.InstanceKey,
				Sequence:  rec.Sequence,
				Data:      rec.Data,
				CreatedAt: rec.CreatedAt,
			})
		}

	case MethodDrop:
		if err := h.store.DeleteCheckpoint(ctx, msg.Key); err != nil {
			resp.Type = MsgError
			resp.Error = err.Error()
			return resp
		}

	case MethodPing:
		// LastSeen bookkeeping only; nothing to do.

	default:
		resp.Type = MsgError
		resp.Error = "unknown method: " + msg.Method
	}

	return resp
}
