// Package dispatch routes decoded platform messages to session state and
// application handlers.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/metrics"
	"github.com/bwoudt/jambonz-go/ingress/internal/protocol"
	"github.com/bwoudt/jambonz-go/ingress/internal/session"
	"github.com/bwoudt/jambonz-go/ingress/internal/store"
	"github.com/bwoudt/jambonz-go/ingress/internal/tracing"
)

// Texts sent in answer to a final event.
const (
	RateLimitText = "You have exceeded the rate limit."
	SuccessText   = "Request processed successfully."
)

// HandlerSet is one application's set of call-flow hooks. SessionNew runs
// for every new call; the optional hooks run after the synthetic
// instruction is queued and before the flush.
type HandlerSet struct {
	Name       string
	SessionNew func(ctx context.Context, s *session.Session, path string) error
	CallStatus func(ctx context.Context, s *session.Session, status string) error
	VerbHook   func(ctx context.Context, s *session.Session, hook string, data map[string]any) error
}

// Options carries the optional collaborators of a Dispatcher.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Journal store.Store
}

// Dispatcher applies one inbound message at a time to the registry.
type Dispatcher struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	journal  store.Store
	observer session.Observer
}

// New creates a dispatcher over registry.
func New(registry *session.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		journal:  opts.Journal,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.metrics != nil {
		d.observer = d.metrics
	}
	return d
}

// Registry returns the registry the dispatcher mutates.
func (d *Dispatcher) Registry() *session.Registry {
	return d.registry
}

// Dispatch handles one decoded message that arrived on conn. Handler panics
// are recovered so one bad message cannot take down the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, conn session.Transport, handlers *HandlerSet, path string, msg *protocol.Message) {
	start := time.Now()
	kind := msg.Kind.String()
	ctx, span := tracing.StartDispatch(ctx, kind, msg.CallSid, msg.B3)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in dispatch",
				zap.String("call_sid", msg.CallSid),
				zap.String("conn_id", conn.ID()),
				zap.String("kind", kind),
				zap.String("error_kind", "handler_failed"),
				zap.Any("panic", r))
		}
		if d.metrics != nil {
			d.metrics.ObserveDispatch(kind, time.Since(start).Seconds())
		}
	}()

	if d.metrics != nil {
		d.metrics.FrameReceived(kind)
	}
	d.logger.Debug("Received message",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("type", msg.Type))

	switch msg.Kind {
	case protocol.KindSessionNew:
		d.handleSessionNew(ctx, conn, handlers, path, msg)
	case protocol.KindStatusUpdate:
		d.handleStatusUpdate(ctx, conn, handlers, msg)
	case protocol.KindCallback:
		d.handleCallback(ctx, conn, handlers, msg)
	case protocol.KindFinal:
		d.handleFinal(ctx, conn, msg)
	case protocol.KindError:
		d.handleError(ctx, conn, msg)
	case protocol.KindClose:
		d.handleClose(ctx, conn, msg)
	default:
		d.logger.Info("Unhandled message type",
			zap.String("call_sid", msg.CallSid),
			zap.String("conn_id", conn.ID()),
			zap.String("type", msg.Type))
	}
}

// CloseOwnedBy drops every session owned by a terminated connection.
func (d *Dispatcher) CloseOwnedBy(ctx context.Context, connID string) []string {
	removed := d.registry.RemoveOwnedBy(connID)
	now := time.Now()
	for _, callSid := range removed {
		d.logger.Info("Session removed on connection close",
			zap.String("call_sid", callSid),
			zap.String("conn_id", connID))
		d.record(ctx, callSid, func(ctx context.Context) error {
			return d.journal.EndCall(ctx, callSid, "connection_closed", now)
		})
	}
	d.syncSessionGauge()
	return removed
}

func (d *Dispatcher) handleSessionNew(ctx context.Context, conn session.Transport, handlers *HandlerSet, path string, msg *protocol.Message) {
	s := session.New(conn, msg, d.logger, d.observer)
	if prev := d.registry.Put(s); prev != nil {
		d.logger.Warn("Replacing existing session",
			zap.String("call_sid", msg.CallSid),
			zap.String("conn_id", conn.ID()),
			zap.String("previous_conn_id", prev.ConnID()),
			zap.String("error_kind", "duplicate_session_id"))
	}
	d.syncSessionGauge()
	d.logger.Info("New session started",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("path", path))

	attrs := s.Attributes()
	d.record(ctx, msg.CallSid, func(ctx context.Context) error {
		return d.journal.StartCall(ctx, &store.Call{
			CallSid:   msg.CallSid,
			ConnID:    conn.ID(),
			Path:      path,
			Direction: attrs.String("direction"),
			From:      attrs.String("from"),
			To:        attrs.String("to"),
			StartedAt: time.Now(),
		})
	})
	d.recordEvent(ctx, msg)

	if handlers != nil && handlers.SessionNew != nil {
		if err := handlers.SessionNew(ctx, s, path); err != nil {
			d.handlerFailed(msg, conn, err)
		}
	}
	s.Reply(ctx, true)
}

func (d *Dispatcher) handleStatusUpdate(ctx context.Context, conn session.Transport, handlers *HandlerSet, msg *protocol.Message) {
	status := msg.Field("call_status").String()
	d.logger.Info("Call status update",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("call_status", status))

	s := d.lookup(conn, msg)
	if s == nil {
		return
	}
	s.Observe(msg)
	d.record(ctx, msg.CallSid, func(ctx context.Context) error {
		return d.journal.UpdateStatus(ctx, msg.CallSid, status)
	})
	d.recordEvent(ctx, msg)

	s.Enqueue("call_status", msg.Attributes())
	if handlers != nil && handlers.CallStatus != nil {
		if err := handlers.CallStatus(ctx, s, status); err != nil {
			d.handlerFailed(msg, conn, err)
		}
	}
	s.Acknowledge(ctx, false, false)
}

func (d *Dispatcher) handleCallback(ctx context.Context, conn session.Transport, handlers *HandlerSet, msg *protocol.Message) {
	s := d.lookup(conn, msg)
	if s == nil {
		return
	}
	s.Observe(msg)
	d.recordEvent(ctx, msg)

	data := msg.Attributes()
	s.Enqueue("verb:hook", data)
	if handlers != nil && handlers.VerbHook != nil {
		if err := handlers.VerbHook(ctx, s, msg.Hook, data); err != nil {
			d.handlerFailed(msg, conn, err)
		}
	}
	s.Acknowledge(ctx, false, false)
}

func (d *Dispatcher) handleFinal(ctx context.Context, conn session.Transport, msg *protocol.Message) {
	reason := msg.Field("completion_reason").String()
	d.logger.Info("Final event for session",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("completion_reason", reason))
	d.recordEvent(ctx, msg)

	text := SuccessText
	if reason == protocol.CompletionRateLimited {
		text = RateLimitText
	}
	frame := protocol.NewSay(text)
	data, err := protocol.Encode(frame)
	if err == nil {
		err = conn.Send(ctx, data)
	}
	if d.observer != nil {
		d.observer.FrameSent(frame.FrameType(), err)
	}
	if err != nil {
		d.logger.Error("Failed to send final response",
			zap.String("call_sid", msg.CallSid),
			zap.String("conn_id", conn.ID()),
			zap.String("error_kind", "transmit_failure"),
			zap.Error(err))
	}
}

func (d *Dispatcher) handleError(ctx context.Context, conn session.Transport, msg *protocol.Message) {
	d.logger.Error("Error in session",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("error_kind", "platform_error"),
		zap.String("detail", msg.ErrorDetail()))
	d.recordEvent(ctx, msg)
}

func (d *Dispatcher) handleClose(ctx context.Context, conn session.Transport, msg *protocol.Message) {
	d.recordEvent(ctx, msg)
	if !d.registry.Remove(msg.CallSid) {
		d.logger.Debug("Close for unknown session",
			zap.String("call_sid", msg.CallSid),
			zap.String("conn_id", conn.ID()),
			zap.String("error_kind", "unknown_call_id"))
		return
	}
	d.syncSessionGauge()
	d.logger.Info("Session closed",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()))
	d.record(ctx, msg.CallSid, func(ctx context.Context) error {
		return d.journal.EndCall(ctx, msg.CallSid, "close", time.Now())
	})
}

func (d *Dispatcher) lookup(conn session.Transport, msg *protocol.Message) *session.Session {
	s, err := d.registry.Lookup(msg.CallSid)
	if err != nil {
		d.logger.Warn("No session for message",
			zap.String("call_sid", msg.CallSid),
			zap.String("conn_id", conn.ID()),
			zap.String("type", msg.Type),
			zap.String("error_kind", "unknown_call_id"))
		if d.metrics != nil {
			d.metrics.UnknownCall(msg.Kind.String())
		}
		return nil
	}
	return s
}

func (d *Dispatcher) handlerFailed(msg *protocol.Message, conn session.Transport, err error) {
	d.logger.Error("Handler failed",
		zap.String("call_sid", msg.CallSid),
		zap.String("conn_id", conn.ID()),
		zap.String("kind", msg.Kind.String()),
		zap.String("error_kind", "handler_failed"),
		zap.Error(err))
}

func (d *Dispatcher) recordEvent(ctx context.Context, msg *protocol.Message) {
	d.record(ctx, msg.CallSid, func(ctx context.Context) error {
		payload := msg.Data
		if msg.Kind == protocol.KindError && len(msg.Error) > 0 {
			payload = msg.Error
		}
		return d.journal.AddEvent(ctx, &store.Event{
			CallSid: msg.CallSid,
			Kind:    msg.Kind.String(),
			Ts:      time.Now(),
			Payload: payload,
		})
	})
}

// record runs a journal write when a journal is configured. Journal failures
// never affect the protocol.
func (d *Dispatcher) record(ctx context.Context, callSid string, fn func(context.Context) error) {
	if d.journal == nil {
		return
	}
	if err := fn(ctx); err != nil {
		d.logger.Warn("Failed to write call journal",
			zap.String("call_sid", callSid),
			zap.Error(fmt.Errorf("journal: %w", err)))
	}
}

func (d *Dispatcher) syncSessionGauge() {
	if d.metrics != nil {
		d.metrics.SetSessions(d.registry.Len())
	}
}
