package session

import (
	"context"
	"strings"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// Message is the canonical, read-only-after-construction view of one raw
// inbound event. Built once per event and passed by reference through the
// routing chain; a single consumer handles it, so no locking is needed.
type Message struct {
	ID        string
	ChatID    string
	Sender    string
	PushName  string
	IsGroup   bool
	FromSelf  bool
	Timestamp time.Time

	// Body is the extracted free text, empty when the event carries none.
	Body string
	// Command and Args are derived from Body when it starts with the
	// command prefix.
	Command string
	Args    string

	Key transport.MessageKey

	// Seed carries interaction state a handler attached for a follow-on
	// dispatch within the same exchange. It never outlives this message;
	// state that must survive to a later inbound event belongs in the
	// wizard tracker.
	Seed *Seed

	client      transport.Client
	sendTimeout time.Duration
}

// Seed is short-lived interaction context attached by a handler.
type Seed struct {
	Participants []transport.Participant
	Setting      string
}

// NewMessage normalizes one raw event. Sender resolution: group messages
// resolve the per-participant sender, self-sent messages resolve to the
// session's own identity, direct messages resolve to the chat id itself.
func NewMessage(raw transport.RawMessage, client transport.Client, sendTimeout time.Duration) *Message {
	chatID := raw.Key.ChatID
	isGroup := transport.IsGroupChat(chatID)

	sender := chatID
	switch {
	case isGroup:
		sender = raw.Key.Participant
	case raw.Key.FromMe:
		sender = client.SelfID()
	}

	pushName := raw.PushName
	if pushName == "" {
		pushName = "User"
	}

	return &Message{
		ID:          raw.Key.ID,
		ChatID:      chatID,
		Sender:      sender,
		PushName:    pushName,
		IsGroup:     isGroup,
		FromSelf:    raw.Key.FromMe,
		Timestamp:   raw.Timestamp,
		Body:        extractBody(raw),
		Key:         raw.Key,
		client:      client,
		sendTimeout: sendTimeout,
	}
}

// extractBody checks the text shapes in order; first non-empty wins.
func extractBody(raw transport.RawMessage) string {
	for _, s := range []string{raw.Conversation, raw.ExtendedText, raw.ImageCaption, raw.VideoCaption} {
		if s != "" {
			return s
		}
	}
	return ""
}

// ParseCommand splits Body into a lower-cased command name and the argument
// remainder, given the configured prefix. Returns false when Body does not
// start with the prefix.
func (m *Message) ParseCommand(prefix string) bool {
	if prefix == "" || !strings.HasPrefix(m.Body, prefix) {
		return false
	}
	rest := m.Body[len(prefix):]
	name, args, _ := strings.Cut(rest, " ")
	if name == "" {
		return false
	}
	m.Command = strings.ToLower(name)
	m.Args = strings.TrimSpace(args)
	return true
}

// Reply sends text into the originating conversation, quoting this message.
func (m *Message) Reply(ctx context.Context, text string) error {
	ctx, cancel := m.sendCtx(ctx)
	defer cancel()
	key := m.Key
	return m.client.SendText(ctx, m.ChatID, text, &key, nil)
}

// React attaches a lightweight emoji reaction to this message.
func (m *Message) React(ctx context.Context, emoji string) error {
	ctx, cancel := m.sendCtx(ctx)
	defer cancel()
	return m.client.React(ctx, m.ChatID, m.Key, emoji)
}

// Client exposes the live connection for handlers that need more than
// Reply/React (buttons, documents, group metadata).
func (m *Message) Client() transport.Client { return m.client }

// SenderNumber returns the bare number part of the sender identity.
func (m *Message) SenderNumber() string {
	if idx := strings.IndexByte(m.Sender, '@'); idx > 0 {
		return m.Sender[:idx]
	}
	return m.Sender
}

func (m *Message) sendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.sendTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.sendTimeout)
}
