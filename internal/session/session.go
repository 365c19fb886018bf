package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultChatTitle is the title of a chat before its first message.
const DefaultChatTitle = "New Chat"

// Message represents a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat is one saved conversation.
type Chat struct {
	Title string    `json:"title"`
	Msgs  []Message `json:"msgs"`
}

// ChatList is the user's chat map keyed by chat id. It keeps insertion
// order through a JSON round trip so the sidebar lists chats the same way
// every time.
type ChatList struct {
	order []string
	chats map[string]*Chat
}

// NewChatList creates an empty list.
func NewChatList() *ChatList {
	return &ChatList{chats: make(map[string]*Chat)}
}

// Len returns the number of chats.
func (l *ChatList) Len() int { return len(l.order) }

// IDs returns chat ids in insertion order.
func (l *ChatList) IDs() []string {
	return append([]string(nil), l.order...)
}

// Get returns the chat with id, or nil.
func (l *ChatList) Get(id string) *Chat {
	return l.chats[id]
}

// Put inserts or replaces a chat. A replaced chat keeps its position.
func (l *ChatList) Put(id string, c *Chat) {
	if l.chats == nil {
		l.chats = make(map[string]*Chat)
	}
	if _, ok := l.chats[id]; !ok {
		l.order = append(l.order, id)
	}
	l.chats[id] = c
}

// Clone returns a deep copy.
func (l *ChatList) Clone() *ChatList {
	out := NewChatList()
	for _, id := range l.order {
		c := l.chats[id]
		out.Put(id, &Chat{Title: c.Title, Msgs: append([]Message(nil), c.Msgs...)})
	}
	return out
}

// MarshalJSON writes the chats as an object in insertion order.
func (l *ChatList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range l.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(l.chats[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a chat object, keeping the key order of the input.
func (l *ChatList) UnmarshalJSON(data []byte) error {
	l.order = nil
	l.chats = make(map[string]*Chat)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("chat list must be an object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected chat key %v", tok)
		}
		var c Chat
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("failed to decode chat %s: %w", id, err)
		}
		l.Put(id, &c)
	}

	_, err = dec.Token()
	return err
}

// Context is the UI session state: who is logged in and what is open.
// It is owned by the controller and handed to whatever needs it.
type Context struct {
	Email     string
	ChatID    string
	NoteID    string
	ContactID string
	Model     string
	Tokens    int
}

// LoggedIn reports whether a user is set.
func (c *Context) LoggedIn() bool {
	return c.Email != ""
}

// Reset clears everything but the model choice.
func (c *Context) Reset() {
	model := c.Model
	*c = Context{Model: model}
}
