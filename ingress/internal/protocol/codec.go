package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame is returned for frames that are not a JSON object with a
// string type field.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError reports a frame that could not be decoded. CallSid is filled
// when the raw bytes still expose one.
type DecodeError struct {
	CallSid string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedFrame, e.Err)
}

// Unwrap lets errors.Is match ErrMalformedFrame and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedFrame, e.Err}
}

// Decode parses one inbound frame.
func Decode(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &DecodeError{Err: errors.New("invalid JSON")}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &DecodeError{Err: errors.New("frame is not an object")}
	}
	callSid := root.Get("call_sid").String()

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{CallSid: callSid, Err: err}
	}
	if msg.Type == "" {
		return nil, &DecodeError{CallSid: callSid, Err: errors.New("missing type")}
	}
	msg.Kind = KindOf(msg.Type)
	return &msg, nil
}

// Encode serializes one outbound frame.
func Encode(m Outbound) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", m.FrameType(), err)
	}
	return data, nil
}

// Field looks up a dotted path inside the message data.
func (m *Message) Field(path string) gjson.Result {
	return gjson.GetBytes(m.Data, path)
}

// Attributes decodes the data object into a key/value map. A missing or
// non-object data field yields an empty map.
func (m *Message) Attributes() map[string]any {
	attrs := make(map[string]any)
	if len(m.Data) == 0 {
		return attrs
	}
	if err := json.Unmarshal(m.Data, &attrs); err != nil || attrs == nil {
		return make(map[string]any)
	}
	return attrs
}

// ErrorDetail returns the platform error text, falling back to the data field.
func (m *Message) ErrorDetail() string {
	if len(m.Error) > 0 {
		if r := gjson.ParseBytes(m.Error); r.Type == gjson.String {
			return r.String()
		}
		return string(m.Error)
	}
	return string(m.Data)
}
