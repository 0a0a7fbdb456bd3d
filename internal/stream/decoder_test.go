package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) ([]Event, []error) {
	t.Helper()
	dec := NewDecoder(strings.NewReader(input))
	var events []Event
	var decodeErrs []error
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events, decodeErrs
		}
		var malformed *MalformedPayloadError
		if errors.As(err, &malformed) {
			decodeErrs = append(decodeErrs, err)
			continue
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecodeDeltaSequence(t *testing.T) {
	input := "event: claude_start\ndata: {}\n\n" +
		"event: claude_delta\ndata: {\"content\": \"Hello\"}\n\n" +
		"event: claude_delta\ndata: {\"content\": \", world\"}\n\n" +
		"event: claude_end\ndata: {}\n\n" +
		"data: [DONE]\n\n"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 0 {
		t.Fatalf("unexpected decode errors: %v", decodeErrs)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %#v", len(events), events)
	}
	if events[0].Type != EventStart || events[3].Type != EventEnd {
		t.Fatalf("missing turn boundary markers: %#v", events)
	}

	var content strings.Builder
	for _, ev := range events {
		if ev.Type == EventDelta {
			content.WriteString(ev.Delta.Content)
		}
	}
	if content.String() != "Hello, world" {
		t.Fatalf("delta concatenation mismatch: %q", content.String())
	}
}

// A payload split across transport chunks must decode once the frame is
// complete; the decoder never sees a half-written record mid-stream.
func TestDecodeAcrossChunkBoundary(t *testing.T) {
	first := "event: claude_delta\ndata: {\"content\": \"par"
	second := "tial\"}\n\n"

	dec := NewDecoder(io.MultiReader(strings.NewReader(first), strings.NewReader(second)))
	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventDelta || ev.Delta.Content != "partial" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestMalformedPayloadDoesNotAbortStream(t *testing.T) {
	input := "event: claude_delta\ndata: {not json at all}\n\n" +
		"event: claude_delta\ndata: {\"content\": \"after\"}\n\n"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 1 {
		t.Fatalf("expected 1 malformed payload, got %d", len(decodeErrs))
	}
	var malformed *MalformedPayloadError
	if !errors.As(decodeErrs[0], &malformed) || malformed.Type != EventDelta {
		t.Fatalf("unexpected error: %v", decodeErrs[0])
	}
	if len(events) != 1 || events[0].Delta.Content != "after" {
		t.Fatalf("stream did not continue past the bad frame: %#v", events)
	}
}

// A record cut off by end of stream is the tail of a split chunk, not a
// malformed payload; it is dropped silently.
func TestTruncatedTailIsDeferred(t *testing.T) {
	input := "event: claude_delta\ndata: {\"content\": \"ok\"}\n\n" +
		"event: claude_delta\ndata: {\"content\": \"trunc"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 0 {
		t.Fatalf("truncated tail reported as error: %v", decodeErrs)
	}
	if len(events) != 1 || events[0].Delta.Content != "ok" {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestCompleteTailAtEOFIsKept(t *testing.T) {
	input := "event: complete\ndata: {\"multiRepoResults\": [{\"repository\": \"web\", \"success\": true}]}"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 0 {
		t.Fatalf("unexpected decode errors: %v", decodeErrs)
	}
	if len(events) != 1 || events[0].Type != EventComplete {
		t.Fatalf("expected complete event, got %#v", events)
	}
	results := events[0].Complete.MultiRepoResults
	if len(results) != 1 || results[0].Repository != "web" || !results[0].Success {
		t.Fatalf("unexpected results: %#v", results)
	}
}

func TestStatusAndErrorPayloads(t *testing.T) {
	input := "event: status\ndata: {\"status\": \"working\", \"message\": \"Applying changes\", \"repository\": \"api\"}\n\n" +
		"event: error\ndata: {\"message\": \"boom\"}\n\n"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 0 {
		t.Fatalf("unexpected decode errors: %v", decodeErrs)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if got := events[0].Status.Text(); got != "[api] Applying changes" {
		t.Fatalf("status text mismatch: %q", got)
	}
	if events[1].Error.Message != "boom" {
		t.Fatalf("error payload mismatch: %#v", events[1])
	}
}

func TestSentinelAndBlankFramesIgnored(t *testing.T) {
	input := "\n\ndata: [DONE]\n\nevent: claude_end\n\n" +
		"event: claude_delta\ndata: {\"content\": \"x\"}\n\n"

	events, decodeErrs := collect(t, input)
	if len(decodeErrs) != 0 {
		t.Fatalf("unexpected decode errors: %v", decodeErrs)
	}
	if len(events) != 1 || events[0].Delta.Content != "x" {
		t.Fatalf("unexpected events: %#v", events)
	}
}
