// Package export renders a conversation for the external export
// collaborators. Rendering is the output contract; delivery (git hosting,
// SFTP, webhook) happens elsewhere.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

// AppVersion is stamped into export bundles and markdown front matter.
const AppVersion = "1.0.0"

// Record is one rendered conversation turn.
type Record struct {
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	AudioRef  string    `json:"audioRef,omitempty"`
}

// Bundle is the canonical export payload.
type Bundle struct {
	Timestamp  time.Time `json:"timestamp"`
	AppVersion string    `json:"app_version"`
	Messages   []Record  `json:"messages"`
}

// Select picks the messages to export. An empty id list means the full
// conversation; otherwise the subset is returned in log order.
func Select(messages []convo.Message, ids []string) []convo.Message {
	if len(ids) == 0 {
		return messages
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	selected := make([]convo.Message, 0, len(ids))
	for _, m := range messages {
		if _, ok := wanted[m.ID]; ok {
			selected = append(selected, m)
		}
	}
	return selected
}

// NewBundle builds an export bundle from the selected messages.
func NewBundle(messages []convo.Message) Bundle {
	records := make([]Record, 0, len(messages))
	for _, m := range messages {
		records = append(records, Record{
			Role:      string(m.Role),
			Timestamp: m.CreatedAt,
			Content:   m.Content,
			AudioRef:  m.AudioRef,
		})
	}
	return Bundle{
		Timestamp:  time.Now().UTC(),
		AppVersion: AppVersion,
		Messages:   records,
	}
}

// RenderMarkdown produces the markdown document for a bundle: YAML front
// matter followed by one section per turn.
func RenderMarkdown(bundle Bundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b, "title: YAP Conversation Export\n")
	fmt.Fprintf(&b, "date: %s UTC\n", bundle.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "app_version: %s\n", bundle.AppVersion)
	fmt.Fprintf(&b, "messages_count: %d\n", len(bundle.Messages))
	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "# Conversation\n\n")

	for _, record := range bundle.Messages {
		fmt.Fprintf(&b, "## %s — %s\n\n", titleForRole(record.Role), record.Timestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "%s\n\n", record.Content)
		if record.AudioRef != "" {
			fmt.Fprintf(&b, "*Recording: %s*\n\n", record.AudioRef)
		}
	}

	return b.String()
}

func titleForRole(role string) string {
	switch role {
	case string(convo.RoleUser):
		return "User"
	case string(convo.RoleAssistant):
		return "Assistant"
	case string(convo.RoleError):
		return "Error"
	default:
		return role
	}
}

// EncodeJSON serializes a bundle.
func EncodeJSON(bundle Bundle) ([]byte, error) {
	return json.MarshalIndent(bundle, "", "  ")
}

// DecodeJSON parses a previously exported bundle.
func DecodeJSON(data []byte) (Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("decode export bundle: %w", err)
	}
	return bundle, nil
}

// Import converts a bundle back into conversation messages, preserving role,
// content, audio references, and order. Identity is re-assigned by the store
// on append. A user record not followed by an assistant reply is restored as a
// failed turn, so the imported log never claims an exchange that did not
// complete.
func Import(bundle Bundle) []convo.Message {
	messages := make([]convo.Message, 0, len(bundle.Messages))
	for i, record := range bundle.Messages {
		role := convo.Role(record.Role)
		status := convo.StatusComplete
		switch {
		case role == convo.RoleError:
			status = convo.StatusError
		case role == convo.RoleUser && !answeredAt(bundle.Messages, i):
			status = convo.StatusError
		}
		messages = append(messages, convo.Message{
			Role:      role,
			Content:   record.Content,
			CreatedAt: record.Timestamp,
			AudioRef:  record.AudioRef,
			Status:    status,
		})
	}
	return messages
}

func answeredAt(records []Record, i int) bool {
	return i+1 < len(records) && records[i+1].Role == string(convo.RoleAssistant)
}
