// Package protocol defines the WebSocket message protocol between the jambonz
// platform and the application.
package protocol

import (
	"encoding/json"

	"github.com/bwoudt/jambonz-go/pkg/verbs"
)

// Subprotocol is the token the platform negotiates at handshake time.
const Subprotocol = "ws.jambonz.org"

// Kind is the discriminated message kind after alias resolution.
type Kind int

// Inbound and outbound message kinds.
const (
	KindUnknown Kind = iota
	KindSessionNew
	KindStatusUpdate
	KindCallback
	KindFinal
	KindError
	KindClose
	KindAck
	KindCommand
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindSessionNew:   "session-new",
	KindStatusUpdate: "status-update",
	KindCallback:     "callback",
	KindFinal:        "final",
	KindError:        "error",
	KindClose:        "close",
	KindAck:          "ack",
	KindCommand:      "command",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Wire type names sent by the platform. Both the colon form and the
// underscore form are accepted.
var wireKinds = map[string]Kind{
	"session:new":      KindSessionNew,
	"session_new":      KindSessionNew,
	"session:adulting": KindSessionNew,
	"session:redirect": KindSessionNew,
	"call:status":      KindStatusUpdate,
	"call_status":      KindStatusUpdate,
	"verb:hook":        KindCallback,
	"verb_hook":        KindCallback,
	"final":            KindFinal,
	"error":            KindError,
	"jambonz:error":    KindError,
	"close":            KindClose,
	"ack":              KindAck,
	"command":          KindCommand,
}

// KindOf resolves a wire type name.
func KindOf(wireType string) Kind {
	if k, ok := wireKinds[wireType]; ok {
		return k
	}
	return KindUnknown
}

// Outbound frame types.
const (
	TypeAck     = "ack"
	TypeCommand = "command"
	TypeSay     = "say"
)

// CommandRedirect is the only command the session layer issues.
const CommandRedirect = "redirect"

// CompletionRateLimited is the completion reason of a final event that was
// cut short by the platform's rate limiter.
const CompletionRateLimited = "rate_limit_exceeded"

// Message is a decoded inbound frame.
type Message struct {
	Kind    Kind            `json:"-"`
	Type    string          `json:"type"`
	CallSid string          `json:"call_sid"`
	MsgID   string          `json:"msgid,omitempty"`
	B3      string          `json:"b3,omitempty"`
	Hook    string          `json:"hook,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Outbound is a frame written to the platform.
type Outbound interface {
	FrameType() string
}

// AckMessage acknowledges the inbound message identified by MsgID.
type AckMessage struct {
	Type  string              `json:"type"`
	MsgID string              `json:"msgid"`
	Data  []verbs.Instruction `json:"data,omitempty"`
}

// FrameType implements Outbound.
func (m AckMessage) FrameType() string { return TypeAck }

// CommandMessage pushes instructions outside of an inbound turn.
type CommandMessage struct {
	Type         string              `json:"type"`
	Command      string              `json:"command"`
	QueueCommand bool                `json:"queueCommand"`
	Data         []verbs.Instruction `json:"data,omitempty"`
}

// FrameType implements Outbound.
func (m CommandMessage) FrameType() string { return TypeCommand }

// SayMessage is the direct notification sent in answer to a final event.
type SayMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FrameType implements Outbound.
func (m SayMessage) FrameType() string { return TypeSay }

// NewAck builds an ack frame.
func NewAck(msgID string, data []verbs.Instruction) AckMessage {
	return AckMessage{Type: TypeAck, MsgID: msgID, Data: data}
}

// NewRedirect builds a redirect command frame.
func NewRedirect(queueCommand bool, data []verbs.Instruction) CommandMessage {
	return CommandMessage{Type: TypeCommand, Command: CommandRedirect, QueueCommand: queueCommand, Data: data}
}

// NewSay builds a say notification.
func NewSay(text string) SayMessage {
	return SayMessage{Type: TypeSay, Text: text}
}
