package transcript_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/transcript"
)

func TestMemoryStore_AppendFillsDefaults(t *testing.T) {
	t.Parallel()
	s := transcript.NewMemoryStore(10, time.Hour)

	e := &transcript.Entry{
		SessionID: "sess-1",
		Speaker:   transcript.SpeakerUser,
		Text:      "hello",
	}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" {
		t.Error("Append did not assign an ID")
	}
	if e.CreatedAt.IsZero() {
		t.Error("Append did not stamp CreatedAt")
	}
}

func TestMemoryStore_RecentChronological(t *testing.T) {
	t.Parallel()
	s := transcript.NewMemoryStore(10, time.Hour)
	ctx := context.Background()

	for i := range 5 {
		s.Append(ctx, &transcript.Entry{
			SessionID: "sess-1",
			Speaker:   transcript.SpeakerUser,
			Text:      fmt.Sprintf("turn %d", i),
		})
	}

	got, err := s.Recent(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries; want 3", len(got))
	}
	want := []string{"turn 2", "turn 3", "turn 4"}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("entry %d = %q; want %q", i, got[i].Text, w)
		}
	}
}

func TestMemoryStore_FiltersBySession(t *testing.T) {
	t.Parallel()
	s := transcript.NewMemoryStore(10, time.Hour)
	ctx := context.Background()

	s.Append(ctx, &transcript.Entry{SessionID: "a", Speaker: transcript.SpeakerUser, Text: "mine"})
	s.Append(ctx, &transcript.Entry{SessionID: "b", Speaker: transcript.SpeakerAgent, Text: "other"})

	got, _ := s.Recent(ctx, "a", 10)
	if len(got) != 1 || got[0].Text != "mine" {
		t.Errorf("Recent(a) = %+v; want only session a entries", got)
	}
}

func TestMemoryStore_EvictsByCount(t *testing.T) {
	t.Parallel()
	s := transcript.NewMemoryStore(3, time.Hour)
	ctx := context.Background()

	for i := range 6 {
		s.Append(ctx, &transcript.Entry{
			SessionID: "sess-1",
			Speaker:   transcript.SpeakerAgent,
			Text:      fmt.Sprintf("turn %d", i),
		})
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d; want 3", s.Len())
	}
	got, _ := s.Recent(ctx, "sess-1", 10)
	if got[0].Text != "turn 3" {
		t.Errorf("oldest retained = %q; want turn 3", got[0].Text)
	}
}

func TestMemoryStore_EvictsByAge(t *testing.T) {
	t.Parallel()
	s := transcript.NewMemoryStore(100, 50*time.Millisecond)
	ctx := context.Background()

	s.Append(ctx, &transcript.Entry{SessionID: "s", Speaker: transcript.SpeakerUser, Text: "old"})
	time.Sleep(80 * time.Millisecond)
	s.Append(ctx, &transcript.Entry{SessionID: "s", Speaker: transcript.SpeakerUser, Text: "new"})

	got, _ := s.Recent(ctx, "s", 10)
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("Recent after age eviction = %+v; want only the new entry", got)
	}
}
