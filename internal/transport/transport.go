// Package transport defines the boundary to the messaging protocol client.
// The wire protocol itself lives behind a bridge endpoint; this package
// exposes the connection as a typed event stream plus send primitives so the
// session layer never touches raw frames.
package transport

import (
	"context"
	"strings"
	"time"
)

// ConnState is the reported connection phase of the underlying transport.
type ConnState string

const (
	ConnOpen   ConnState = "open"
	ConnClosed ConnState = "close"
)

// CloseCodeLoggedOut is the close code the bridge sends when the account was
// logged out remotely. Sessions must never reconnect after it.
const CloseCodeLoggedOut = 4401

// MessageKey identifies one message within a conversation.
type MessageKey struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me,omitempty"`
}

// RawMessage is one inbound event as delivered by the protocol endpoint,
// before any classification. Text may live in several shapes; the native
// reply identifiers are mutually exclusive in practice but all three are
// carried so the pipeline can disambiguate.
type RawMessage struct {
	Key       MessageKey `json:"key"`
	PushName  string     `json:"push_name,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`

	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`
	ImageCaption string `json:"image_caption,omitempty"`
	VideoCaption string `json:"video_caption,omitempty"`

	ButtonReplyID   string `json:"button_reply_id,omitempty"`
	ListReplyID     string `json:"list_reply_id,omitempty"`
	TemplateReplyID string `json:"template_reply_id,omitempty"`
}

// NativeReplyID returns the selected identifier when the payload is a
// structured button, list, or template reply, empty otherwise.
func (r RawMessage) NativeReplyID() string {
	switch {
	case r.ButtonReplyID != "":
		return r.ButtonReplyID
	case r.ListReplyID != "":
		return r.ListReplyID
	case r.TemplateReplyID != "":
		return r.TemplateReplyID
	}
	return ""
}

// IsGroupChat reports whether a chat identifier addresses a group
// conversation.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}

// Event is one item on a connection's event stream.
type Event interface{ event() }

// CredsEvent reports updated session secrets. Blob is the full credential
// blob, opaque to everything above this package.
type CredsEvent struct {
	Blob []byte
}

// ConnectEvent reports a connection state change.
type ConnectEvent struct {
	State     ConnState
	Code      int
	Reason    string
	LoggedOut bool
}

// MessageEvent carries one raw inbound message.
type MessageEvent struct {
	Raw RawMessage
}

func (CredsEvent) event()   {}
func (ConnectEvent) event() {}
func (MessageEvent) event() {}

// Button is one tappable action offered to the user.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ButtonPrompt is an interactive message with attached buttons.
type ButtonPrompt struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
}

// Document is a file attachment.
type Document struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Data     []byte `json:"data"`
}

// Participant is one member of a group conversation.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// Client is an authenticated protocol connection. Implementations must close
// the Events channel once the connection is gone; a final ConnectEvent with
// State==ConnClosed is delivered before the close.
type Client interface {
	// SelfID returns the connected account's own identity.
	SelfID() string

	// Events returns the inbound event stream. The channel is closed when
	// the connection dies or Close is called.
	Events() <-chan Event

	// SendText delivers a text message, optionally quoting a message and
	// mentioning participants.
	SendText(ctx context.Context, chatID, text string, quote *MessageKey, mentions []string) error

	// React attaches a lightweight emoji reaction to a message.
	React(ctx context.Context, chatID string, key MessageKey, emoji string) error

	// SendButtons delivers an interactive button prompt.
	SendButtons(ctx context.Context, chatID string, prompt ButtonPrompt) error

	// SendDocument delivers a file attachment.
	SendDocument(ctx context.Context, chatID string, doc Document, quote *MessageKey) error

	// GroupParticipants fetches the member list of a group conversation.
	GroupParticipants(ctx context.Context, chatID string) ([]Participant, error)

	// UpdatePrivacy mutates one account privacy setting.
	UpdatePrivacy(ctx context.Context, setting, value string) error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes a connection for a session. The credential blob is
// passed through opaquely; an empty blob requests a fresh registration.
type Dialer func(ctx context.Context, sessionID string, creds []byte) (Client, error)
