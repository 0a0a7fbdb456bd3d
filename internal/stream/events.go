package stream

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the wire events of an interactive exchange.
type EventType string

const (
	EventStart    EventType = "claude_start"
	EventDelta    EventType = "claude_delta"
	EventEnd      EventType = "claude_end"
	EventStatus   EventType = "status"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is the tagged union decoded from one wire frame. Exactly the payload
// matching Type is non-nil; start and end markers carry no payload.
type Event struct {
	Type     EventType
	Delta    *DeltaPayload
	Status   *StatusPayload
	Complete *CompletePayload
	Error    *ErrorPayload
}

// DeltaPayload carries an incremental content fragment of the streaming
// assistant turn.
type DeltaPayload struct {
	Content string `json:"content"`
}

// StatusPayload is an ephemeral progress line. At most one status message is
// visible at a time; a new status replaces the previous one in place.
type StatusPayload struct {
	Message    string `json:"message,omitempty"`
	Status     string `json:"status,omitempty"`
	Repository string `json:"repository,omitempty"`
}

// Text picks the human-readable line for this status.
func (p *StatusPayload) Text() string {
	text := p.Message
	if text == "" {
		text = p.Status
	}
	if p.Repository != "" && text != "" {
		return fmt.Sprintf("[%s] %s", p.Repository, text)
	}
	return text
}

// RepoResult is one target's outcome in a multi-repository run.
type RepoResult struct {
	Repository string `json:"repository"`
	Success    bool   `json:"success"`
	PRURL      string `json:"prUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CompletePayload signals normal termination of the exchange.
type CompletePayload struct {
	MultiRepoResults []RepoResult `json:"multiRepoResults,omitempty"`
}

// ErrorPayload carries a backend-reported failure that ends the stream.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}

// MalformedPayloadError reports a data payload that is complete on the wire
// but not a valid record. The decoder keeps going; the caller decides how
// loudly to report it.
type MalformedPayloadError struct {
	Type EventType
	Raw  string
	Err  error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Type, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

func decodePayload(eventType EventType, raw string) (Event, error) {
	ev := Event{Type: eventType}
	var err error
	switch eventType {
	case EventStart, EventEnd:
		// Turn boundary markers. The payload is not rendered; nothing to parse.
		return ev, nil
	case EventDelta:
		var p DeltaPayload
		if err = json.Unmarshal([]byte(raw), &p); err == nil {
			ev.Delta = &p
			return ev, nil
		}
	case EventStatus:
		var p StatusPayload
		if err = json.Unmarshal([]byte(raw), &p); err == nil {
			ev.Status = &p
			return ev, nil
		}
	case EventComplete:
		var p CompletePayload
		if err = json.Unmarshal([]byte(raw), &p); err == nil {
			ev.Complete = &p
			return ev, nil
		}
	case EventError:
		var p ErrorPayload
		if err = json.Unmarshal([]byte(raw), &p); err == nil {
			ev.Error = &p
			return ev, nil
		}
	default:
		err = fmt.Errorf("unknown event type %q", eventType)
	}
	return Event{}, &MalformedPayloadError{Type: eventType, Raw: raw, Err: err}
}
