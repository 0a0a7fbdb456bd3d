package models

import (
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name     string
		messages []*Message
		want     string
	}{
		{
			name: "first user message",
			messages: []*Message{
				NewMessage(RoleSystem, "connected"),
				NewMessage(RoleUser, "fix the login flow"),
				NewMessage(RoleAssistant, "on it"),
			},
			want: "fix the login flow",
		},
		{
			name:     "no user message",
			messages: []*Message{NewMessage(RoleAssistant, "hello")},
			want:     "New conversation",
		},
		{
			name:     "empty conversation",
			messages: nil,
			want:     "New conversation",
		},
		{
			name:     "whitespace trimmed",
			messages: []*Message{NewMessage(RoleUser, "  padded prompt  ")},
			want:     "padded prompt",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.messages); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeriveTitleTruncates(t *testing.T) {
	long := strings.Repeat("a", 80)
	got := DeriveTitle([]*Message{NewMessage(RoleUser, long)})
	if want := strings.Repeat("a", 50) + "…"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// Truncation counts runes, not bytes.
	wide := strings.Repeat("日", 60)
	got = DeriveTitle([]*Message{NewMessage(RoleUser, wide)})
	if want := strings.Repeat("日", 50) + "…"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSessionSummary(t *testing.T) {
	s := &Session{
		ID:        "s-1",
		Title:     "a title",
		CreatedAt: 100,
		UpdatedAt: 200,
		Messages: []*Message{
			NewMessage(RoleUser, strings.Repeat("x", 40)),
			NewMessage(RoleAssistant, strings.Repeat("y", 40)),
		},
	}
	sum := s.Summary()
	if sum.ID != "s-1" || sum.MessageCount != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TokenEstimate != 20 {
		t.Fatalf("token estimate = %d, want 20", sum.TokenEstimate)
	}
}

func TestPersistedCopiesMetadata(t *testing.T) {
	m := NewMessage(RoleUser, "hi")
	m.Streaming = true
	m.Metadata = map[string]string{"queued": "true"}

	cp := m.Persisted()
	if cp.Streaming {
		t.Fatal("streaming flag survived")
	}
	cp.Metadata["queued"] = "false"
	if m.Metadata["queued"] != "true" {
		t.Fatal("persisted copy shares metadata with the original")
	}
}
