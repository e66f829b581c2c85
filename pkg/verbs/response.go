package verbs

import "encoding/json"

// Response accumulates instructions in execution order. It is the payload
// returned from an HTTP webhook and can be enqueued on a WebSocket session.
type Response struct {
	verbs []Instruction
}

// NewResponse creates an empty response.
func NewResponse() *Response {
	return &Response{}
}

// Add appends an arbitrary verb. Options are merged into the verb parameters.
func (r *Response) Add(verb string, params map[string]any, opts ...Option) *Response {
	in := New(verb, params)
	for _, opt := range opts {
		opt(in.Params)
	}
	r.verbs = append(r.verbs, in)
	return r
}

// Say speaks text (plain or SSML).
func (r *Response) Say(text string, opts ...Option) *Response {
	return r.Add("say", map[string]any{"text": text}, opts...)
}

// Pause waits for length seconds.
func (r *Response) Pause(length float64) *Response {
	return r.Add("pause", map[string]any{"length": length})
}

// Hangup ends the call.
func (r *Response) Hangup() *Response {
	return r.Add("hangup", nil)
}

// Play plays the audio file at url.
func (r *Response) Play(url string, opts ...Option) *Response {
	return r.Add("play", map[string]any{"url": url}, opts...)
}

// Gather collects speech and/or digits and reports them to actionHook.
func (r *Response) Gather(actionHook string, input []string, opts ...Option) *Response {
	return r.Add("gather", map[string]any{"actionHook": actionHook, "input": input}, opts...)
}

// Dial bridges the call to one or more targets.
func (r *Response) Dial(target []map[string]any, opts ...Option) *Response {
	return r.Add("dial", map[string]any{"target": target}, opts...)
}

// Redirect asks the platform to fetch new instructions from actionHook.
func (r *Response) Redirect(actionHook string) *Response {
	return r.Add("redirect", map[string]any{"actionHook": actionHook})
}

// Leave removes the call from a conference or queue.
func (r *Response) Leave() *Response {
	return r.Add("leave", nil)
}

// SipRequest sends a SIP request within the dialog.
func (r *Response) SipRequest(method string, opts ...Option) *Response {
	return r.Add("sip_request", map[string]any{"method": method}, opts...)
}

// Config changes session-level defaults such as the synthesizer.
func (r *Response) Config(opts ...Option) *Response {
	return r.Add("config", nil, opts...)
}

// Verbs returns a copy of the accumulated instructions. Each instruction
// owns its own params map, so later changes to r do not reach the copy.
func (r *Response) Verbs() []Instruction {
	out := make([]Instruction, len(r.verbs))
	for i, in := range r.verbs {
		out[i] = New(in.Verb, in.Params)
	}
	return out
}

// Len reports the number of accumulated instructions.
func (r *Response) Len() int {
	return len(r.verbs)
}

// MarshalJSON encodes the response as a JSON array of verbs.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.verbs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.verbs)
}

// Option sets an extra verb parameter.
type Option func(params map[string]any)

// With sets params[key] = value.
func With(key string, value any) Option {
	return func(params map[string]any) {
		params[key] = value
	}
}
