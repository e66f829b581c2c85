// Package ws accepts platform WebSocket connections and runs their read loops.
package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/config"
	"github.com/bwoudt/jambonz-go/ingress/internal/dispatch"
	"github.com/bwoudt/jambonz-go/ingress/internal/hub"
	"github.com/bwoudt/jambonz-go/ingress/internal/metrics"
	"github.com/bwoudt/jambonz-go/ingress/internal/protocol"
	"github.com/bwoudt/jambonz-go/ingress/internal/router"
)

// Server handles WebSocket connections.
type Server struct {
	cfg        *config.Config
	hub        *hub.Hub
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new WebSocket server. m may be nil.
func NewServer(cfg *config.Config, h *hub.Hub, r *router.Router, d *dispatch.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		hub:        h,
		router:     r,
		dispatcher: d,
		metrics:    m,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The platform is not a browser and sends no meaningful Origin.
				return true
			},
		},
	}
	if cfg.Subprotocol != "" {
		s.upgrader.Subprotocols = []string{cfg.Subprotocol}
	}
	return s
}

// HandleWebSocket resolves the route, upgrades the request and starts the
// connection's read loop.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	path := req.URL.Path

	handlers, err := s.router.Resolve(path)
	if err != nil {
		s.logger.Warn("Rejecting connection",
			zap.String("path", path),
			zap.String("error_kind", "route_unresolved"),
			zap.Error(err))
		s.rejected("route_unresolved")
		return echo.NewHTTPError(http.StatusNotFound, "no application for path")
	}

	if s.cfg.RequireSubprotocol && !slices.Contains(websocket.Subprotocols(req), s.cfg.Subprotocol) {
		s.logger.Warn("Rejecting connection without subprotocol",
			zap.String("path", path),
			zap.String("subprotocol", s.cfg.Subprotocol))
		s.rejected("subprotocol")
		return echo.NewHTTPError(http.StatusBadRequest, "missing subprotocol "+s.cfg.Subprotocol)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Warn("Failed to upgrade WebSocket", zap.String("path", path), zap.Error(err))
		s.rejected("upgrade")
		return nil
	}

	conn := s.hub.NewConnection(ws, path, s.cfg.WriteTimeout)
	s.hub.Register(conn)
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	s.logger.Info("Connection opened",
		zap.String("conn_id", conn.ID()),
		zap.String("path", path),
		zap.String("app", handlers.Name),
		zap.String("remote_addr", req.RemoteAddr))

	s.wg.Add(1)
	go s.readPump(conn, handlers)
	return nil
}

// Shutdown closes every connection and waits for their loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump reads frames until the connection ends. Messages are dispatched
// synchronously so a connection's messages are applied in arrival order.
func (s *Server) readPump(conn *hub.Connection, handlers *dispatch.HandlerSet) {
	done := make(chan struct{})
	defer func() {
		close(done)
		removed := s.dispatcher.CloseOwnedBy(context.Background(), conn.ID())
		s.hub.Unregister(conn)
		conn.Close()
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
		s.logger.Info("Connection closed",
			zap.String("conn_id", conn.ID()),
			zap.Int("sessions_removed", len(removed)))
		s.wg.Done()
	}()

	ws := conn.Conn()
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	extend := func() { _ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)) }
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	go s.pingPump(conn, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("WebSocket read ended", zap.String("conn_id", conn.ID()), zap.Error(err))
			} else {
				s.logger.Debug("WebSocket read ended", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		extend()
		s.handleFrame(conn, handlers, data)
	}
}

func (s *Server) handleFrame(conn *hub.Connection, handlers *dispatch.HandlerSet, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var callSid string
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			callSid = decErr.CallSid
		}
		s.logger.Warn("Dropping malformed frame",
			zap.String("conn_id", conn.ID()),
			zap.String("call_sid", callSid),
			zap.String("error_kind", "malformed_frame"),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.MalformedFrame()
		}
		return
	}
	s.dispatcher.Dispatch(s.ctx, conn, handlers, conn.Path(), msg)
}

// pingPump keeps the connection alive until done is closed.
func (s *Server) pingPump(conn *hub.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.logger.Debug("Ping failed", zap.String("conn_id", conn.ID()), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.ConnectionRejected(reason)
	}
}
