// Package session holds the per-call protocol state and the registry that
// maps call ids to live sessions.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/protocol"
	"github.com/bwoudt/jambonz-go/pkg/verbs"
)

// ErrTransmit wraps a failed write of an outbound frame.
var ErrTransmit = errors.New("transmit failure")

// Transport is the owning connection of a session.
type Transport interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Observer is notified after every transmit attempt.
type Observer interface {
	FrameSent(frameType string, err error)
}

// Attributes is the call metadata copied from the session-new payload.
type Attributes map[string]any

// Get returns the raw value for key.
func (a Attributes) Get(key string) (any, bool) {
	v, ok := a[key]
	return v, ok
}

// String returns the value for key when it is a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Session is the protocol state of one call leg.
type Session struct {
	callSid string
	attrs   Attributes
	conn    Transport
	logger  *zap.Logger
	obs     Observer

	mu    sync.Mutex
	msgID string
	b3    string
	acked bool
	queue []verbs.Instruction
}

// New creates a session from a session-new message. obs may be nil.
func New(conn Transport, msg *protocol.Message, logger *zap.Logger, obs Observer) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		callSid: msg.CallSid,
		attrs:   msg.Attributes(),
		conn:    conn,
		logger:  logger.With(zap.String("call_sid", msg.CallSid), zap.String("conn_id", conn.ID())),
		obs:     obs,
		msgID:   msg.MsgID,
		b3:      msg.B3,
	}
}

// CallSid returns the platform-assigned call id.
func (s *Session) CallSid() string { return s.callSid }

// ConnID returns the id of the owning connection.
func (s *Session) ConnID() string { return s.conn.ID() }

// Attr returns a single call attribute.
func (s *Session) Attr(key string) (any, bool) { return s.attrs.Get(key) }

// Attributes returns a copy of the call attributes.
func (s *Session) Attributes() Attributes {
	cp := make(Attributes, len(s.attrs))
	for k, v := range s.attrs {
		cp[k] = v
	}
	return cp
}

// MsgID returns the id of the most recent inbound message.
func (s *Session) MsgID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgID
}

// TraceContext returns the propagated b3 token, if any.
func (s *Session) TraceContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b3
}

// Acknowledged reports whether the current inbound message was acked.
func (s *Session) Acknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// Pending returns a copy of the queued instructions.
func (s *Session) Pending() []verbs.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]verbs.Instruction, len(s.queue))
	copy(out, s.queue)
	return out
}

// Observe records a later inbound message for this call. A message carrying
// a msgid starts a new turn that needs its own ack.
func (s *Session) Observe(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.MsgID != "" {
		s.msgID = msg.MsgID
		s.acked = false
	}
	if msg.B3 != "" {
		s.b3 = msg.B3
	}
}

// Enqueue appends an instruction to the pending queue.
func (s *Session) Enqueue(verb string, params map[string]any) *Session {
	in := verbs.New(verb, params)
	s.mu.Lock()
	s.queue = append(s.queue, in)
	s.mu.Unlock()
	return s
}

// EnqueueResponse appends every instruction of r in order.
func (s *Session) EnqueueResponse(r *verbs.Response) *Session {
	list := r.Verbs()
	s.mu.Lock()
	s.queue = append(s.queue, list...)
	s.mu.Unlock()
	return s
}

// Acknowledge builds the next outbound frame from the queue and transmits it.
// The first frame of a turn, or any frame with replyImmediately set, is an
// ack for the current msgid; later frames are redirect commands whose
// queueCommand flag is queueNext. The queue is cleared and the turn marked
// acknowledged whether or not the write succeeds.
func (s *Session) Acknowledge(ctx context.Context, replyImmediately, queueNext bool) {
	s.mu.Lock()
	var data []verbs.Instruction
	if len(s.queue) > 0 {
		data = s.queue
	}
	var frame protocol.Outbound
	if replyImmediately || !s.acked {
		frame = protocol.NewAck(s.msgID, data)
	} else {
		frame = protocol.NewRedirect(queueNext, data)
	}
	s.acked = true
	s.queue = nil
	s.mu.Unlock()

	err := s.transmit(ctx, frame)
	if s.obs != nil {
		s.obs.FrameSent(frame.FrameType(), err)
	}
	if err != nil {
		s.logger.Error("Failed to send frame",
			zap.String("error_kind", "transmit_failure"),
			zap.String("frame_type", frame.FrameType()),
			zap.Error(err))
		return
	}
	s.logger.Debug("Sent frame", zap.String("frame_type", frame.FrameType()), zap.Int("verbs", len(data)))
}

// Reply acks the current message regardless of prior state.
func (s *Session) Reply(ctx context.Context, execImmediate bool) {
	s.Acknowledge(ctx, true, !execImmediate)
}

// Send flushes the queue, acking the current message if that has not
// happened yet and issuing a redirect command otherwise.
func (s *Session) Send(ctx context.Context, execImmediate bool) {
	s.Acknowledge(ctx, false, !execImmediate)
}

func (s *Session) transmit(ctx context.Context, frame protocol.Outbound) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return errors.Join(ErrTransmit, err)
	}
	if err := s.conn.Send(ctx, data); err != nil {
		return errors.Join(ErrTransmit, err)
	}
	return nil
}
