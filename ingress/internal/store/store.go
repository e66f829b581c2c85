// Package store persists a journal of call lifecycle events.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Call is the journal row for one call leg.
type Call struct {
	CallSid    string     `json:"call_sid"`
	ConnID     string     `json:"conn_id"`
	Path       string     `json:"path"`
	Direction  string     `json:"direction,omitempty"`
	From       string     `json:"from,omitempty"`
	To         string     `json:"to,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	EndReason  string     `json:"end_reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Event is one inbound message recorded against a call.
type Event struct {
	CallSid string          `json:"call_sid"`
	Kind    string          `json:"kind"`
	Ts      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Store defines the journal operations.
type Store interface {
	StartCall(ctx context.Context, call *Call) error
	UpdateStatus(ctx context.Context, callSid, status string) error
	EndCall(ctx context.Context, callSid, reason string, at time.Time) error
	AddEvent(ctx context.Context, event *Event) error

	GetCall(ctx context.Context, callSid string) (*Call, error)
	GetEvents(ctx context.Context, callSid string, limit int) ([]Event, error)

	Close() error
}
