package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"esgwatch/internal/models"
)

// IgnoreReason says why an inbound payload was not forwarded.
type IgnoreReason int

const (
	// ReasonControl marks keepalive replies.
	ReasonControl IgnoreReason = iota + 1
	// ReasonMalformed marks payloads that are not a decodable envelope.
	ReasonMalformed
)

func (r IgnoreReason) String() string {
	switch r {
	case ReasonControl:
		return "control"
	case ReasonMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// IgnoredError reports a payload that was dropped without reaching subscribers.
type IgnoredError struct {
	Reason IgnoreReason
	Err    error
}

func (e *IgnoredError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("live payload ignored (%s)", e.Reason)
	}
	return fmt.Sprintf("live payload ignored (%s): %v", e.Reason, e.Err)
}

func (e *IgnoredError) Unwrap() error {
	return e.Err
}

const pongType = "pong"

var errNotObject = errors.New("payload is not a JSON object")

// Decode parses one inbound frame. Keepalive replies and undecodable payloads
// come back as *IgnoredError; any other object is taken as a live update.
func Decode(data []byte) (models.LiveUpdate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.LiveUpdate{}, &IgnoredError{Reason: ReasonMalformed, Err: err}
	}
	if fields == nil {
		return models.LiveUpdate{}, &IgnoredError{Reason: ReasonMalformed, Err: errNotObject}
	}

	if raw, ok := fields["type"]; ok {
		var tag string
		if json.Unmarshal(raw, &tag) == nil && tag == pongType {
			return models.LiveUpdate{}, &IgnoredError{Reason: ReasonControl}
		}
	}

	var update models.LiveUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return models.LiveUpdate{}, &IgnoredError{Reason: ReasonMalformed, Err: err}
	}
	return update, nil
}
