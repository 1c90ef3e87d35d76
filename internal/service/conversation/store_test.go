package conversation

import (
	"errors"
	"path/filepath"
	"testing"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

func TestStoreAppendAssignsIdentityAndOrder(t *testing.T) {
	s := NewStore()

	first, err := s.Append(convo.Message{Role: convo.RoleUser, Content: "one", Status: convo.StatusSent})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.Append(convo.Message{Role: convo.RoleAssistant, Content: "two", Status: convo.StatusComplete})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatal("appended messages must get distinct ids")
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatal("timestamps must be non-decreasing across the log")
	}

	messages := s.Messages()
	if len(messages) != 2 || messages[0].Content != "one" || messages[1].Content != "two" {
		t.Fatalf("unexpected log contents: %+v", messages)
	}
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	s := NewStore()
	if _, err := s.Append(convo.Message{Role: convo.RoleUser}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("rejected append must not grow the log")
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	s := NewStore()
	msg, err := s.Append(convo.Message{Role: convo.RoleUser, Content: "hi", Status: convo.StatusSent})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(msg.ID, convo.StatusComplete); err != nil {
		t.Fatalf("update status: %v", err)
	}
	updated, err := s.Get(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != convo.StatusComplete {
		t.Fatalf("expected complete, got %s", updated.Status)
	}
	if updated.Content != "hi" {
		t.Fatal("status update must not touch content")
	}

	if err := s.UpdateStatus("missing", convo.StatusError); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestStoreDeleteAndClear(t *testing.T) {
	s := NewStore()
	msg, _ := s.Append(convo.Message{Role: convo.RoleUser, Content: "a", Status: convo.StatusComplete})
	s.Append(convo.Message{Role: convo.RoleAssistant, Content: "b", Status: convo.StatusComplete})

	if err := s.Delete(msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 message after delete, got %d", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatal("clear must wipe the log")
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	journal := NewJournal(path)

	s, err := NewPersistentStore(journal, "default")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Append(convo.Message{Role: convo.RoleUser, Content: "saved", Status: convo.StatusComplete, AudioRef: "capture-9"})
	s.Append(convo.Message{Role: convo.RoleAssistant, Content: "reply", Status: convo.StatusComplete})

	reopened, err := NewPersistentStore(journal, "default")
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	messages := reopened.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", len(messages))
	}
	if messages[0].Content != "saved" || messages[0].AudioRef != "capture-9" {
		t.Fatalf("restored message corrupted: %+v", messages[0])
	}
	if messages[1].Role != convo.RoleAssistant {
		t.Fatalf("restored role corrupted: %+v", messages[1])
	}
}

func TestPersistentStoreClearRemovesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	journal := NewJournal(path)

	s, err := NewPersistentStore(journal, "default")
	if err != nil {
		t.Fatal(err)
	}
	s.Append(convo.Message{Role: convo.RoleUser, Content: "gone soon", Status: convo.StatusComplete})
	s.Clear()

	restored, err := journal.Load("default")
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if len(restored) != 0 {
		t.Fatalf("clear must remove the conversation key, found %d messages", len(restored))
	}
}

func TestJournalKeysAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	journal := NewJournal(path)

	if err := journal.Save("a", []convo.Message{{ID: "1", Role: convo.RoleUser, Content: "for a", Status: convo.StatusComplete}}); err != nil {
		t.Fatal(err)
	}
	if err := journal.Save("b", []convo.Message{{ID: "2", Role: convo.RoleUser, Content: "for b", Status: convo.StatusComplete}}); err != nil {
		t.Fatal(err)
	}
	if err := journal.Remove("a"); err != nil {
		t.Fatal(err)
	}

	kept, err := journal.Load("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 || kept[0].Content != "for b" {
		t.Fatalf("removing one key must not touch another: %+v", kept)
	}
}
