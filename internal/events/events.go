// Package events defines the websocket wire protocol. Every frame is a JSON
// envelope naming the event, an optional client-chosen id echoed on replies,
// and the event's data. Each direction has a closed set of payload types;
// frames are only ever built and parsed through this package.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Payload is implemented by every event body.
type Payload interface {
	EventName() string
}

type envelope struct {
	Event     string          `json:"event"`
	Id        int             `json:"id,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is a frame sent from a client to the server.
type ClientEvent struct {
	Id      int
	Payload Payload
}

// ServerEvent is a frame sent from the server to a client.
type ServerEvent struct {
	Id        int
	Timestamp time.Time
	Payload   Payload
}

func (e ClientEvent) Name() string { return e.Payload.EventName() }

func (e ServerEvent) Name() string { return e.Payload.EventName() }

// WithId returns a copy of e addressed as the reply to request id.
func (e *ServerEvent) WithId(id int) *ServerEvent {
	out := *e
	out.Id = id
	return &out
}

func (e ClientEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{Event: e.Payload.EventName(), Id: e.Id, Data: data})
}

func (e *ClientEvent) UnmarshalJSON(b []byte) error {
	_, id, _, payload, err := decode(b, clientPayloads)
	if err != nil {
		return err
	}

	e.Id = id
	e.Payload = payload
	return nil
}

func (e ServerEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	ts := e.Timestamp
	return json.Marshal(envelope{Event: e.Payload.EventName(), Id: e.Id, Timestamp: &ts, Data: data})
}

func (e *ServerEvent) UnmarshalJSON(b []byte) error {
	_, id, ts, payload, err := decode(b, serverPayloads)
	if err != nil {
		return err
	}

	e.Id = id
	e.Payload = payload
	if ts != nil {
		e.Timestamp = *ts
	}
	return nil
}

// DecodeClientEvent parses a client frame. When the envelope itself could be
// read, the returned event carries the request id even if err is non-nil so
// that the error reply can be correlated.
func DecodeClientEvent(b []byte) (ClientEvent, error) {
	_, id, _, payload, err := decode(b, clientPayloads)
	return ClientEvent{Id: id, Payload: payload}, err
}

type decoder func(data json.RawMessage) (Payload, error)

// register adds the payload type T to registry under its event name.
func register[T Payload](registry map[string]decoder) {
	var zero T
	registry[zero.EventName()] = func(data json.RawMessage) (Payload, error) {
		var v T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func decode(b []byte, registry map[string]decoder) (string, int, *time.Time, Payload, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", 0, nil, nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	dec, ok := registry[env.Event]
	if !ok {
		return env.Event, env.Id, env.Timestamp, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	payload, err := dec(env.Data)
	if err != nil {
		return env.Event, env.Id, env.Timestamp, nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, env.Event, err)
	}

	return env.Event, env.Id, env.Timestamp, payload, nil
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
