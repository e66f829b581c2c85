// Package verbs provides the instruction records exchanged with the jambonz
// platform and a builder for assembling them.
package verbs

import (
	"encoding/json"
	"strings"
)

// Instruction is one verb for the platform to execute on a call leg.
type Instruction struct {
	Verb   string
	Params map[string]any
}

// New returns an instruction with a canonical verb name and a copy of params.
func New(verb string, params map[string]any) Instruction {
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return Instruction{Verb: Canonical(verb), Params: cp}
}

// Canonical rewrites underscore-delimited verb names ("gather_play") to the
// colon-delimited form the platform expects ("gather:play").
func Canonical(verb string) string {
	return strings.ReplaceAll(verb, "_", ":")
}

// MarshalJSON flattens the instruction into {"verb": name, ...params}.
// The verb name always wins over a "verb" key in params.
func (i Instruction) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Params)+1)
	for k, v := range i.Params {
		out[k] = v
	}
	out["verb"] = i.Verb
	return json.Marshal(out)
}

// UnmarshalJSON splits {"verb": name, ...params} back into an instruction.
func (i *Instruction) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	verb, _ := raw["verb"].(string)
	delete(raw, "verb")
	i.Verb = verb
	i.Params = raw
	return nil
}
