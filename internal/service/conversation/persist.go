package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

// Journal serializes conversation logs to a single JSON file, one ordered
// message array per conversation key. Clearing a conversation removes its key
// entirely.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal creates a journal at the given file path. The file is created
// lazily on first save.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Load returns the saved log for the key, or an empty log when the key or the
// file does not exist.
func (j *Journal) Load(key string) ([]convo.Message, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	logs, err := j.read()
	if err != nil {
		return nil, err
	}
	messages, ok := logs[key]
	if !ok {
		return make([]convo.Message, 0, 16), nil
	}
	return messages, nil
}

// Save replaces the stored log for the key.
func (j *Journal) Save(key string, messages []convo.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	logs, err := j.read()
	if err != nil {
		return err
	}
	logs[key] = messages
	return j.write(logs)
}

// Remove deletes the key and everything stored under it.
func (j *Journal) Remove(key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	logs, err := j.read()
	if err != nil {
		return err
	}
	if _, ok := logs[key]; !ok {
		return nil
	}
	delete(logs, key)
	return j.write(logs)
}

func (j *Journal) read() (map[string][]convo.Message, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string][]convo.Message), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	logs := make(map[string][]convo.Message)
	if len(data) == 0 {
		return logs, nil
	}
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return logs, nil
}

// write replaces the journal file atomically so a crash mid-save cannot
// truncate an existing log.
func (j *Journal) write(logs map[string][]convo.Message) error {
	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
