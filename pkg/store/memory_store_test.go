package store

import (
	"errors"
	"testing"
	"time"

	"footyai/pkg/domain"
)

func TestMemoryStoreUsers(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	user := domain.User{Username: "Charlie", CreatedAt: now, UpdatedAt: now}
	if err := m.SaveUser(user, "digest"); err != nil {
		t.Fatalf("save user: %v", err)
	}

	// Lookup keys are case-folded.
	got, ok, err := m.GetUser("charlie")
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if got.Username != "Charlie" {
		t.Fatalf("display username = %q, want Charlie", got.Username)
	}

	_, digest, ok, err := m.GetCredentials("charlie")
	if err != nil || !ok || digest != "digest" {
		t.Fatalf("get credentials: digest=%q ok=%v err=%v", digest, ok, err)
	}

	count, err := m.UserCount()
	if err != nil || count != 1 {
		t.Fatalf("user count = %d err=%v, want 1", count, err)
	}
}

func TestMemoryStoreIncrementMessages(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveUser(domain.User{Username: "Dana"}, "digest"); err != nil {
		t.Fatalf("save user: %v", err)
	}

	for i := 1; i <= 3; i++ {
		user, err := m.IncrementMessages("dana")
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if user.MessagesSent != i {
			t.Fatalf("messagesSent = %d, want %d", user.MessagesSent, i)
		}
	}

	if _, err := m.IncrementMessages("ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("increment unknown user: err=%v, want ErrUserNotFound", err)
	}
}

func TestMemoryStoreTranscripts(t *testing.T) {
	m := NewMemoryStore()
	transcript := domain.Transcript{
		ID:       "t-1",
		Username: "dana",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleModel, Content: "Hi!"},
			{Role: domain.RoleUser, Content: "Who won in 1966?"},
		},
	}
	if err := m.SaveTranscript(transcript); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	got, ok, err := m.GetTranscript("t-1")
	if err != nil || !ok {
		t.Fatalf("get transcript: ok=%v err=%v", ok, err)
	}
	if len(got.Messages) != 2 || got.Archived {
		t.Fatalf("unexpected transcript %+v", got)
	}

	if err := m.MarkTranscriptArchived("t-1", "transcripts/dana/t-1.json"); err != nil {
		t.Fatalf("mark archived: %v", err)
	}
	got, _, _ = m.GetTranscript("t-1")
	if !got.Archived {
		t.Fatalf("transcript should be archived")
	}
}
