// ABOUTME: Value types for the shared assistant session and its messages
// ABOUTME: All transitions return a new Session; callers never mutate a snapshot in place

package session

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusFinal     Status = "final"     // user messages, immediately
	StatusPending   Status = "pending"   // assistant placeholder (typing indicator)
	StatusDelivered Status = "delivered" // assistant reply received
	StatusFailed    Status = "failed"    // fallback text substituted
)

// Resolved reports whether s is a terminal assistant status.
func (s Status) Resolved() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Message is a single entry in the conversation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Session is the state every surface renders from.
type Session struct {
	IsOpen          bool      `json:"is_open"`
	Messages        []Message `json:"messages"`
	ShowSuggestions bool      `json:"show_suggestions"`
	greeted         bool
}

// New returns the empty session a process starts with.
func New() Session {
	return Session{
		Messages:        []Message{},
		ShowSuggestions: true,
	}
}

// UserMessage builds a final user message with a fresh correlation ID.
func UserMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderUser,
		Timestamp: now,
		Status:    StatusFinal,
	}
}

// PendingReply builds the assistant placeholder shown while an exchange is in flight.
func PendingReply(now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    SenderAssistant,
		Timestamp: now,
		Status:    StatusPending,
	}
}

// Greeting builds the delivered assistant message appended on first open.
func Greeting(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderAssistant,
		Timestamp: now,
		Status:    StatusDelivered,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	c := s
	c.Messages = slices.Clone(s.Messages)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return c
}

// WithOpen returns a copy of s with IsOpen set.
func (s Session) WithOpen(open bool) Session {
	c := s.Clone()
	c.IsOpen = open
	return c
}

// Append returns a copy of s with msgs added in order. Appending a user message
// hides the suggestions for the rest of the session.
func (s Session) Append(msgs ...Message) Session {
	c := s.Clone()
	for _, m := range msgs {
		c.Messages = append(c.Messages, m)
		if m.Sender == SenderUser {
			c.ShowSuggestions = false
		}
	}
	return c
}

// AppendGreeting returns a copy of s with the greeting appended. It reports false
// and leaves s untouched if a greeting was already added.
func (s Session) AppendGreeting(msg Message) (Session, bool) {
	if s.greeted {
		return s, false
	}
	c := s.Append(msg)
	c.greeted = true
	return c, true
}

// HasGreeting reports whether the first-open greeting has been appended.
func (s Session) HasGreeting() bool {
	return s.greeted
}

// Resolve replaces the pending message with the given ID by its resolved
// counterpart at the same position. It reports false if no pending message with
// that ID exists, which keeps a resolution from ever landing twice.
func (s Session) Resolve(id, text string, status Status, now time.Time) (Session, bool) {
	if !status.Resolved() {
		return s, false
	}
	i := slices.IndexFunc(s.Messages, func(m Message) bool { return m.ID == id })
	if i < 0 || s.Messages[i].Status != StatusPending {
		return s, false
	}

	c := s.Clone()
	c.Messages[i] = Message{
		ID:        id,
		Text:      text,
		Sender:    SenderAssistant,
		Timestamp: now,
		Status:    status,
	}
	return c, true
}

// PendingCount returns the number of unresolved assistant placeholders.
func (s Session) PendingCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Status == StatusPending {
			n++
		}
	}
	return n
}

// Find returns the message with the given ID.
func (s Session) Find(id string) (Message, bool) {
	i := slices.IndexFunc(s.Messages, func(m Message) bool { return m.ID == id })
	if i < 0 {
		return Message{}, false
	}
	return s.Messages[i], true
}
