package federation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"clawgate/internal/claw"
	"clawgate/internal/config"
)

// commandTimeout bounds how long a forwarded request waits for the
// peer's response.
const commandTimeout = 15 * time.Second

// Hub owns the one federation peer connection and the in-flight
// command waiters. The same hub serves both roles: on a server node it
// accepts the upgrade, on a client node RunClient dials out.
type Hub struct {
	cfg    func() config.Config
	exec   Executor
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	waiters map[string]chan Response
}

func NewHub(cfg func() config.Config, exec Executor, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		exec:    exec,
		logger:  logger,
		waiters: make(map[string]chan Response),
	}
}

// PeerConnected reports whether a peer is currently attached.
func (h *Hub) PeerConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// ServeHTTP accepts the federation upgrade on a server node. At most
// one peer is attached; a new upgrade replaces the previous peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if token := h.cfg().Federation.Token; token != "" {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("federation upgrade failed", "error", err)
		return
	}
	h.logger.Info("federation peer connected", "remote", r.RemoteAddr)
	h.attach(r.Context(), conn)
}

// attach installs conn as the peer and pumps frames until it closes.
// Blocks for the life of the connection.
func (h *Hub) attach(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	h.mu.Lock()
	if h.conn != nil {
		h.cancel()
		_ = h.conn.Close(websocket.StatusGoingAway, "replaced by new peer")
	}
	h.conn = conn
	h.cancel = cancel
	h.mu.Unlock()

	h.readLoop(ctx, conn)

	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
		h.cancel = nil
	}
	// Every in-flight command on this connection fails now.
	for id, ch := range h.waiters {
		close(ch)
		delete(h.waiters, id)
	}
	h.mu.Unlock()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("federation peer disconnected")
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("bad federation frame", "error", err)
			continue
		}
		switch frame.Kind {
		case KindResponse:
			if frame.Response != nil {
				h.deliver(*frame.Response)
			}
		case KindCommand:
			if frame.Command != nil {
				go h.execute(ctx, conn, *frame.Command)
			}
		default:
			h.logger.Warn("unknown federation frame kind", "kind", frame.Kind)
		}
	}
}

func (h *Hub) deliver(resp Response) {
	h.mu.Lock()
	ch, ok := h.waiters[resp.ID]
	if ok {
		delete(h.waiters, resp.ID)
	}
	h.mu.Unlock()
	if !ok {
		h.logger.Warn("federation response with unknown id dropped", "id", resp.ID)
		return
	}
	ch <- resp
}

// execute runs an incoming command against the local HTTP surface and
// writes the response frame back.
func (h *Hub) execute(ctx context.Context, conn *websocket.Conn, cmd Command) {
	status, headers, body := h.exec(cmd.Method, cmd.Path, cmd.Headers, cmd.Body)
	if trace := cmd.Headers[TraceHeader]; trace != "" && headers[TraceHeader] == "" {
		headers[TraceHeader] = trace
	}
	frame := Frame{Kind: KindResponse, Response: &Response{
		ID:      cmd.ID,
		Status:  status,
		Headers: headers,
		Body:    body,
	}}
	if err := h.write(ctx, conn, frame); err != nil {
		h.logger.Warn("federation response write failed", "id", cmd.ID, "error", err)
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return claw.NewError(claw.CodeEncodeFailed, err.Error())
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// SendCommand forwards one command to the peer and waits for the
// matching response. forProject is carried for future routing; today
// the single peer receives everything.
func (h *Hub) SendCommand(ctx context.Context, forProject string, cmd Command) (Response, error) {
	_ = forProject

	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		return Response{}, claw.NewRetriable(claw.CodeFederationUnavailable, "no federation peer connected")
	}
	if _, exists := h.waiters[cmd.ID]; exists {
		h.mu.Unlock()
		return Response{}, claw.NewError(claw.CodeInternalError, "duplicate command id: "+cmd.ID)
	}
	ch := make(chan Response, 1)
	h.waiters[cmd.ID] = ch
	h.mu.Unlock()

	if err := h.write(ctx, conn, Frame{Kind: KindCommand, Command: &cmd}); err != nil {
		h.mu.Lock()
		delete(h.waiters, cmd.ID)
		h.mu.Unlock()
		return Response{}, claw.NewRetriable(claw.CodePeerDisconnected, "federation write failed: "+err.Error())
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, claw.NewRetriable(claw.CodePeerDisconnected, "peer disconnected before response")
		}
		return resp, nil
	case <-timer.C:
		h.mu.Lock()
		delete(h.waiters, cmd.ID)
		h.mu.Unlock()
		return Response{}, claw.NewRetriable(claw.CodeCommandTimeout, "no response within 15s")
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.waiters, cmd.ID)
		h.mu.Unlock()
		return Response{}, claw.NewRetriable(claw.CodeCommandTimeout, ctx.Err().Error())
	}
}

// normalizeWSURL turns an http(s) federation URL into its ws(s) form.
func normalizeWSURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	return raw
}
