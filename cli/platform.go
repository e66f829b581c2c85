package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subprotocol is negotiated on every simulated platform connection.
const Subprotocol = "ws.jambonz.org"

// Frame is a platform-to-application message.
type Frame struct {
	Type    string         `json:"type"`
	CallSid string         `json:"call_sid"`
	MsgID   string         `json:"msgid,omitempty"`
	Hook    string         `json:"hook,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Platform simulates the telephony platform side of one call.
type Platform struct {
	conn    *websocket.Conn
	callSid string
	from    string
	to      string
	mu      sync.Mutex
}

// Dial connects to addr with the platform subprotocol.
func Dial(addr, from, to string) (*Platform, error) {
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, resp, err := dialer.Dial(addr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Platform{
		conn:    conn,
		callSid: uuid.New().String(),
		from:    from,
		to:      to,
	}, nil
}

// CallSid returns the simulated call id.
func (p *Platform) CallSid() string { return p.callSid }

// Close closes the connection.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return p.conn.Close()
}

// Send writes f.
func (p *Platform) Send(f *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(f)
}

// Read blocks for the next application frame.
func (p *Platform) Read() (map[string]any, error) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return m, nil
}

// SessionNew builds the opening frame of a call.
func (p *Platform) SessionNew() *Frame {
	return &Frame{
		Type:    "session:new",
		CallSid: p.callSid,
		MsgID:   newMsgID(),
		Data: map[string]any{
			"call_sid":    p.callSid,
			"direction":   "inbound",
			"from":        p.from,
			"to":          p.to,
			"call_status": "trying",
		},
	}
}

// ParseCommand turns an interactive command line into a frame. quit reports
// that the user asked to leave.
func (p *Platform) ParseCommand(line string) (f *Frame, quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "/status":
		if rest == "" {
			return nil, false, fmt.Errorf("usage: /status <state>")
		}
		return &Frame{Type: "call:status", CallSid: p.callSid, MsgID: newMsgID(),
			Data: map[string]any{"call_sid": p.callSid, "call_status": rest}}, false, nil
	case "/hook":
		if len(fields) < 2 {
			return nil, false, fmt.Errorf("usage: /hook <name> [speech]")
		}
		data := map[string]any{"call_sid": p.callSid}
		if speech := strings.TrimSpace(strings.TrimPrefix(rest, fields[1])); speech != "" {
			data["reason"] = "speechDetected"
			data["speech"] = map[string]any{
				"alternatives": []any{map[string]any{"transcript": speech, "confidence": 1.0}},
			}
		}
		return &Frame{Type: "verb:hook", CallSid: p.callSid, MsgID: newMsgID(), Hook: fields[1], Data: data}, false, nil
	case "/final":
		data := map[string]any{}
		if rest != "" {
			data["completion_reason"] = rest
		}
		return &Frame{Type: "final", CallSid: p.callSid, Data: data}, false, nil
	case "/error":
		return &Frame{Type: "jambonz:error", CallSid: p.callSid, Error: rest}, false, nil
	case "/close":
		return &Frame{Type: "close", CallSid: p.callSid}, false, nil
	case "/quit":
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("unknown command %q", fields[0])
	}
}

func newMsgID() string {
	return uuid.New().String()
}
