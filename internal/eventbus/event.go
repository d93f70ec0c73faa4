// Package eventbus carries job progress events from the orchestrator to the ingress service.
//
// A Bus is a single named publish/subscribe channel. Delivery is best-effort:
// events published while nobody is subscribed are lost, and a slow subscriber
// may miss events rather than block the publisher.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
)

// TypeEval is the message type of every progress event.
const TypeEval = "eval"

// DefaultChannel is the pub/sub channel name used when none is configured.
const DefaultChannel = "audit_progress"

// Status is the phase a unit of work reports.
type Status string

const (
	StatusStart Status = "start"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Event is a progress notification for one unit of work of one job.
type Event struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	JobID  string `json:"job_id"`
}

// NewEvalEvent builds a progress event for the named unit of work.
func NewEvalEvent(jobID, name string, status Status) Event {
	return Event{
		Type:   TypeEval,
		Name:   name,
		Status: status,
		JobID:  jobID,
	}
}

// Message is a received event together with the raw payload it was decoded from.
// Relays forward Raw unchanged.
type Message struct {
	Event Event
	Raw   []byte
}

// ErrClosed is returned when publishing on or subscribing to a closed bus.
var ErrClosed = errors.New("event bus closed")

// Bus publishes progress events and hands out subscriptions to them.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription is a live feed of bus messages. Messages is closed after Close
// or when the subscription context ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Decode parses a raw bus payload. Payloads without a job id are rejected.
func Decode(raw []byte) (Message, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Message{}, err
	}
	if e.JobID == "" {
		return Message{}, errors.New("event has no job_id")
	}
	return Message{Event: e, Raw: raw}, nil
}
