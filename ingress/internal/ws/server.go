// Package ws serves live progress connections: handshake auth, the read and
// write pumps and the heartbeat.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/ingress/internal/config"
	"github.com/xiaot623/auditflow/ingress/internal/hub"
	"github.com/xiaot623/auditflow/ingress/internal/metrics"
	"github.com/xiaot623/auditflow/internal/auth"
	"github.com/xiaot623/auditflow/internal/protocol"
)

const rejectDrainTimeout = time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, verifier *auth.Verifier) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Requests are authenticated by signature, not by origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request, authenticates it and hands the
// connection to the hub. Unauthenticated connections are closed with
// code 4001 and never reach the hub.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	logger := zap.S().Named("ws")

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		logger.Warnw("failed to upgrade websocket", "remote", req.RemoteAddr, "error", err)
		return nil
	}

	conn := hub.NewConnection(req.RemoteAddr, s.cfg.WebSocket.SendBuffer)
	query := req.URL.Query()
	if err := s.verifier.Verify(query.Get(protocol.ParamSignature), query.Get(protocol.ParamTimestamp), req.URL.Path); err != nil {
		metrics.IncreaseAuthFailuresMetric()
		logger.Warnw("rejected unauthenticated connection", "remote", req.RemoteAddr, "error", err)
		s.reject(ws)
		return nil
	}
	conn.Authenticate()

	if err := s.hub.Register(conn); err != nil {
		logger.Errorw("failed to register connection", "conn_id", conn.ID, "error", err)
		_ = ws.Close()
		return nil
	}
	logger.Infow("connection opened", "conn_id", conn.ID, "remote", req.RemoteAddr)

	ws.SetReadLimit(s.cfg.WebSocket.MaxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(ws, conn)
	go s.heartbeat(ctx, conn)
	go s.readPump(cancel, ws, conn)

	return nil
}

// reject sends the unauthorized close frame and waits briefly for the peer's
// close reply before dropping the socket.
func (s *Server) reject(ws *websocket.Conn) {
	defer ws.Close()

	msg := websocket.FormatCloseMessage(protocol.CloseUnauthorized, protocol.CloseReasonUnauthorized)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WebSocket.WriteTimeout)); err != nil {
		return
	}
	_ = ws.SetReadDeadline(time.Now().Add(rejectDrainTimeout))
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}

// readPump handles inbound frames until the socket fails, then unregisters.
func (s *Server) readPump(cancel context.CancelFunc, ws *websocket.Conn, conn *hub.Connection) {
	logger := zap.S().Named("ws").With("conn_id", conn.ID)
	defer func() {
		cancel()
		if s.hub.Unregister(conn) {
			logger.Infow("connection closed by client")
		}
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debugw("websocket read failed", "error", err)
			}
			return
		}

		conn.Touch()

		cmd := protocol.Parse(data)
		switch cmd.Kind {
		case protocol.CommandSubscribe:
			if err := s.hub.Subscribe(conn, cmd.JobID); err != nil {
				return
			}
			logger.Infow("subscribed", "job_id", cmd.JobID)
		case protocol.CommandPong:
		default:
			// application text
		}
	}
}

// writePump is the only writer of data frames. It ends when the hub closes
// the connection's outbound queue.
func (s *Server) writePump(ws *websocket.Conn, conn *hub.Connection) {
	defer ws.Close()

	for data := range conn.Outbound() {
		_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WebSocket.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			zap.S().Named("ws").Debugw("websocket write failed", "conn_id", conn.ID, "error", err)
			s.hub.Unregister(conn)
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WebSocket.WriteTimeout))
}

// heartbeat probes the client every interval and evicts it when a probe is
// still unanswered after the grace window.
func (s *Server) heartbeat(ctx context.Context, conn *hub.Connection) {
	interval := s.cfg.WebSocket.HeartbeatInterval
	grace := s.cfg.WebSocket.HeartbeatGrace
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		conn.MarkAwaitingPong()
		if err := s.hub.Send(conn, protocol.HeartbeatFrame); err != nil {
			return
		}

		timer := time.NewTimer(grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if conn.AwaitingPong() {
			if s.hub.Unregister(conn) {
				metrics.IncreaseEvictionsMetric(metrics.EvictionHeartbeat)
				zap.S().Named("ws").Infow("evicted unresponsive connection", "conn_id", conn.ID)
			}
			return
		}
	}
}
