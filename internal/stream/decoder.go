// Package stream decodes the chunked server-push event protocol into typed
// events, tolerating chunk boundaries that split a logical record.
package stream

import (
	"bufio"
	"io"
	"strings"
)

const (
	eventMarker  = "event:"
	dataMarker   = "data:"
	doneSentinel = "[DONE]"
)

// Decoder reads SSE frames from a response body. Frames are buffered up to
// their blank-line delimiter before any payload is parsed, so a payload
// split across transport chunks is never seen half-finished.
type Decoder struct {
	r *bufio.Reader

	eventType EventType
	dataLines []string
	eof       bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next decoded event. It returns io.EOF at end of stream, a
// *MalformedPayloadError for a complete-but-invalid payload (the stream
// continues on the following call), or the underlying read error.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.eof {
			return Event{}, io.EOF
		}

		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return Event{}, err
		}
		if err == io.EOF {
			d.eof = true
			// A frame still open at EOF is the tail of a record the server
			// never finished. Keep it only if it looks complete.
			return d.flushTruncated(line)
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev, ok, err := d.endFrame(); ok || err != nil {
				return ev, err
			}
		case strings.HasPrefix(line, eventMarker):
			d.eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, eventMarker)))
		case strings.HasPrefix(line, dataMarker):
			d.dataLines = append(d.dataLines, strings.TrimSpace(strings.TrimPrefix(line, dataMarker)))
		default:
			// Comment or unknown field; SSE says skip it.
		}
	}
}

// endFrame parses the buffered frame. ok reports whether an event (or a
// malformed-payload error) is being handed to the caller.
func (d *Decoder) endFrame() (Event, bool, error) {
	payload := strings.Join(d.dataLines, "\n")
	eventType := d.eventType
	d.dataLines = nil

	if len(payload) == 0 || payload == doneSentinel {
		// End-of-stream sentinel or a bare event line, not a real payload.
		return Event{}, false, nil
	}
	ev, err := decodePayload(eventType, payload)
	if err != nil {
		return Event{}, true, err
	}
	return ev, true, nil
}

func (d *Decoder) flushTruncated(partial string) (Event, error) {
	partial = strings.TrimRight(partial, "\r\n")
	if strings.HasPrefix(partial, dataMarker) {
		d.dataLines = append(d.dataLines, strings.TrimSpace(strings.TrimPrefix(partial, dataMarker)))
	}
	payload := strings.Join(d.dataLines, "\n")
	d.dataLines = nil

	if len(payload) == 0 || payload == doneSentinel {
		return Event{}, io.EOF
	}
	if !strings.HasSuffix(payload, "}") {
		// Syntactically incomplete: the record was cut off mid-write.
		// Dropping it silently beats surfacing a phantom parse error.
		return Event{}, io.EOF
	}
	ev, err := decodePayload(d.eventType, payload)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}
