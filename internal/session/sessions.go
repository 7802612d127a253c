package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/doc-chat/internal/domain"
)

const sessionsKey = "sessions"

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one chat history entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the persisted state of one conversation.
type Session struct {
	ID            string      `json:"sessionId"`
	ChatHistory   []Turn      `json:"chatHistory"`
	ExtractedText interface{} `json:"extracted_text,omitempty"`
	Timestamp     float64     `json:"timestamp,omitempty"`
}

// Sessions provides typed access to sessions kept in a Store.
type Sessions struct {
	store *Store
	now   func() time.Time
}

// NewSessions wraps store.
func NewSessions(store *Store) *Sessions {
	return &Sessions{store: store, now: time.Now}
}

// NewID returns a server-generated session id.
func NewID(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.Unix(), uuid.NewString())
}

// ValidateID rejects ids that cannot be used as a single key segment.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ValidationError("session id cannot be empty", nil)
	}
	if strings.Contains(id, ".") {
		return domain.ValidationError(fmt.Sprintf("session id %q must not contain '.'", id), nil)
	}
	return nil
}

// Resolve returns id when supplied and valid, or a fresh id when id is empty.
func (s *Sessions) Resolve(id string) (string, error) {
	if id == "" {
		return NewID(s.now()), nil
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// Load returns the stored session, if any.
func (s *Sessions) Load(id string) (*Session, bool) {
	if ValidateID(id) != nil {
		return nil, false
	}
	raw := s.store.Get(key(id), nil)
	if raw == nil {
		return nil, false
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, false
	}
	sess.ID = id
	if sess.ChatHistory == nil {
		sess.ChatHistory = []Turn{}
	}
	return &sess, true
}

// AppendTurn appends turn to the session's history and persists it.
func (s *Sessions) AppendTurn(id string, turn Turn) {
	s.update(id, func(m map[string]interface{}) {
		history, _ := m["chatHistory"].([]interface{})
		m["chatHistory"] = append(history, map[string]interface{}{
			"role":    turn.Role,
			"content": turn.Content,
		})
	})
}

// SetExtractedText caches extracted text on the session.
func (s *Sessions) SetExtractedText(id string, extracted interface{}) {
	s.update(id, func(m map[string]interface{}) {
		m["extracted_text"] = extracted
		if _, ok := m["chatHistory"]; !ok {
			m["chatHistory"] = []interface{}{}
		}
	})
}

// List returns all session ids, sorted.
func (s *Sessions) List() []string {
	all, _ := s.store.Get(sessionsKey, nil).(map[string]interface{})
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sessions) update(id string, mutate func(m map[string]interface{})) {
	s.store.Update(key(id), func(current interface{}) interface{} {
		m, _ := current.(map[string]interface{})
		if m == nil {
			m = map[string]interface{}{}
		}
		mutate(m)
		m["timestamp"] = float64(s.now().UnixNano()) / 1e9
		return m
	})
}

func key(id string) string {
	return sessionsKey + "." + id
}
