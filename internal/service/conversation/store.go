package conversation

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyContent    = errors.New("message content is empty")
)

// Store is the ordered, append-only log of conversation turns. It owns message
// identity and persistence. The mutex exists because HTTP and WebSocket
// handlers share the aggregate within a session; the store is not meant to be
// shared across sessions.
type Store struct {
	mu       sync.RWMutex
	key      string
	journal  *Journal
	messages []convo.Message
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{messages: make([]convo.Message, 0, 16)}
}

// NewPersistentStore creates a store backed by the journal under the given
// conversation key, restoring any previously saved log.
func NewPersistentStore(journal *Journal, key string) (*Store, error) {
	messages, err := journal.Load(key)
	if err != nil {
		return nil, err
	}
	return &Store{key: key, journal: journal, messages: messages}, nil
}

// Append assigns identity and a non-decreasing timestamp to the message and
// adds it to the log.
func (s *Store) Append(message convo.Message) (convo.Message, error) {
	if message.Content == "" {
		return convo.Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message.ID = uuid.NewString()
	message.CreatedAt = s.nextTimestampLocked()
	s.messages = append(s.messages, message)
	s.persistLocked()
	return message, nil
}

// nextTimestampLocked clamps wall-clock time so CreatedAt never decreases
// across the log.
func (s *Store) nextTimestampLocked() time.Time {
	now := time.Now().UTC()
	if n := len(s.messages); n > 0 && now.Before(s.messages[n-1].CreatedAt) {
		return s.messages[n-1].CreatedAt
	}
	return now
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (convo.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return convo.Message{}, ErrMessageNotFound
}

// UpdateStatus changes the lifecycle status of a delivered message. Content
// and ordering are never touched; an edit creates a new draft instead.
func (s *Store) UpdateStatus(id string, status convo.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Status = status
			s.persistLocked()
			return nil
		}
	}
	return ErrMessageNotFound
}

// Delete removes a single message. Explicit user action only.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.persistLocked()
			return nil
		}
	}
	return ErrMessageNotFound
}

// Clear wipes the whole log and removes the conversation key from the
// journal. Irreversible.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	if s.journal != nil {
		if err := s.journal.Remove(s.key); err != nil {
			log.Printf("[store] failed to remove conversation key: %v", err)
		}
	}
}

// Messages returns a copy of the log in chronological order.
func (s *Store) Messages() []convo.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]convo.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len reports the number of logged messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) persistLocked() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(s.key, s.messages); err != nil {
		log.Printf("[store] failed to persist conversation log: %v", err)
	}
}
