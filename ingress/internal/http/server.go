// Package http provides the internal HTTP server for ingress.
package http

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/apps"
	"github.com/bwoudt/jambonz-go/ingress/internal/hub"
	"github.com/bwoudt/jambonz-go/ingress/internal/metrics"
	"github.com/bwoudt/jambonz-go/ingress/internal/session"
	"github.com/bwoudt/jambonz-go/ingress/internal/store"
	"github.com/bwoudt/jambonz-go/pkg/webhook"
)

// Options configures the internal HTTP server. Journal and Metrics may be nil.
type Options struct {
	Hub           *hub.Hub
	Registry      *session.Registry
	Journal       store.Store
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	WebhookSecret string
	Username      string
	Password      string
}

// Server is the internal HTTP server for ingress.
type Server struct {
	echo     *echo.Echo
	hub      *hub.Hub
	registry *session.Registry
	journal  store.Store
	logger   *zap.Logger
}

// NewServer creates a new internal HTTP server.
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		echo:     e,
		hub:      opts.Hub,
		registry: opts.Registry,
		journal:  opts.Journal,
		logger:   logger,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	e.GET("/internal/calls", s.handleListCalls)
	e.GET("/internal/calls/:call_sid", s.handleGetCall)

	hooks := []echo.MiddlewareFunc{webhook.Middleware(opts.WebhookSecret, logger)}
	if opts.Username != "" && opts.Password != "" {
		hooks = append(hooks, middleware.BasicAuth(func(user, pass string, _ echo.Context) (bool, error) {
			ok := subtle.ConstantTimeCompare([]byte(user), []byte(opts.Username)) == 1 &&
				subtle.ConstantTimeCompare([]byte(pass), []byte(opts.Password)) == 1
			if !ok {
				logger.Warn("Unauthorized access attempt")
			}
			return ok, nil
		}))
	}
	e.POST("/hello-world", s.handleHelloWorld, hooks...)
	e.POST("/call-status", s.handleCallStatus, hooks...)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"sessions":    s.registry.Len(),
	})
}

// CallsResponse is the body of GET /internal/calls.
type CallsResponse struct {
	Count int      `json:"count"`
	Calls []string `json:"calls"`
}

func (s *Server) handleListCalls(c echo.Context) error {
	calls := s.registry.CallSids()
	if calls == nil {
		calls = []string{}
	}
	return c.JSON(http.StatusOK, CallsResponse{Count: len(calls), Calls: calls})
}

// CallResponse is the body of GET /internal/calls/:call_sid.
type CallResponse struct {
	CallSid    string         `json:"call_sid"`
	Live       bool           `json:"live"`
	ConnID     string         `json:"conn_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Call       *store.Call    `json:"call,omitempty"`
	Events     []store.Event  `json:"events,omitempty"`
}

func (s *Server) handleGetCall(c echo.Context) error {
	ctx := c.Request().Context()
	callSid := c.Param("call_sid")
	resp := CallResponse{CallSid: callSid}

	if sess, err := s.registry.Lookup(callSid); err == nil {
		resp.Live = true
		resp.ConnID = sess.ConnID()
		resp.Attributes = sess.Attributes()
	}

	if s.journal != nil {
		call, err := s.journal.GetCall(ctx, callSid)
		if err != nil {
			s.logger.Error("Failed to read call journal", zap.String("call_sid", callSid), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read call journal"})
		}
		if call != nil {
			events, err := s.journal.GetEvents(ctx, callSid, 500)
			if err != nil {
				s.logger.Error("Failed to read call events", zap.String("call_sid", callSid), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read call events"})
			}
			resp.Call = call
			resp.Events = events
		}
	}

	if !resp.Live && resp.Call == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleHelloWorld answers a call webhook with the hello-world verbs.
func (s *Server) handleHelloWorld(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	fields := gjson.GetManyBytes(body, "call_sid", "from", "to")
	s.logger.Info("Received call webhook",
		zap.String("call_sid", fields[0].String()),
		zap.String("from", fields[1].String()),
		zap.String("to", fields[2].String()))

	return c.JSON(http.StatusOK, apps.HelloWorldResponse())
}

// handleCallStatus logs a call status webhook.
func (s *Server) handleCallStatus(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !gjson.ValidBytes(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
	}
	fields := gjson.GetManyBytes(body, "call_sid", "call_status", "from", "to")
	s.logger.Info("Received call status update",
		zap.String("call_sid", fields[0].String()),
		zap.String("call_status", fields[1].String()),
		zap.String("from", fields[2].String()),
		zap.String("to", fields[3].String()))

	return c.NoContent(http.StatusOK)
}
