package graph

import (
	"context"
	"testing"

	"github.com/llitpux/cogstream/internal/model"
)

func TestMemoryStoreAppendMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.UpsertUser(ctx, model.User{TelegramID: 1, ID: "u1", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}

	msg := model.Message{UID: model.MessageUID(100, 1), ChatID: 100, MessageID: 1, Text: "hi", CreatedAt: 1000}
	created, err := s.AppendMessage(ctx, msg, 1, false)
	if err != nil || !created {
		t.Fatalf("first append: created=%v err=%v", created, err)
	}

	created, err = s.AppendMessage(ctx, msg, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second append with same uid should be a no-op")
	}
}

func TestMemoryStoreAppendMessageUnknownAuthor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := model.Message{UID: model.MessageUID(100, 1), ChatID: 100, MessageID: 1, Text: "hi", CreatedAt: 1000}
	if _, err := s.AppendMessage(ctx, msg, 99, false); err == nil {
		t.Fatal("expected error for unknown user author")
	}
}

func TestMemoryStoreRecentMessagesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.UpsertUser(ctx, model.User{TelegramID: 1, ID: "u1", Name: "Alice"})

	for i := int64(1); i <= 5; i++ {
		msg := model.Message{UID: model.MessageUID(100, i), ChatID: 100, MessageID: i, Text: "m", CreatedAt: 1000 + i}
		if _, err := s.AppendMessage(ctx, msg, 1, false); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.RecentMessages(ctx, 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	if recent[0].MessageID != 5 || recent[1].MessageID != 4 || recent[2].MessageID != 3 {
		t.Fatalf("expected newest-first order 5,4,3; got %v,%v,%v", recent[0].MessageID, recent[1].MessageID, recent[2].MessageID)
	}
}

func TestMemoryStoreTopicNormalization(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.UpsertTopic(ctx, model.Topic{Title: "  Go Concurrency  ", Status: model.TopicActive}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTopic(ctx, model.Topic{Title: "GO CONCURRENCY", Status: model.TopicArchived}); err != nil {
		t.Fatal(err)
	}
	topics, err := s.ActiveTopics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 0 {
		t.Fatalf("expected the second upsert (archived) to supersede the first, got %+v", topics)
	}
}

func TestMemoryStoreWorkingOnReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SetWorkingOn(ctx, 1, "task-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWorkingOn(ctx, 1, "task-b"); err != nil {
		t.Fatal(err)
	}
	ref, ok := s.WorkingOn(1)
	if !ok || ref != "task-b" {
		t.Fatalf("expected task-b to supersede task-a, got %q (ok=%v)", ref, ok)
	}
	if err := s.ClearWorkingOn(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.WorkingOn(1); ok {
		t.Fatal("expected WORKING_ON to be cleared")
	}
}

func TestMemoryStoreLinksAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.UpsertEntity(ctx, model.Entity{Name: "Go", Type: model.EntityTechnology})
	_ = s.UpsertTopic(ctx, model.Topic{Title: "concurrency", Status: model.TopicActive})

	for i := 0; i < 3; i++ {
		if err := s.LinkInvolves(ctx, "Concurrency", "Go"); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(s.involves[normalize("concurrency")]); got != 1 {
		t.Fatalf("expected exactly one INVOLVES edge, got %d", got)
	}
}
