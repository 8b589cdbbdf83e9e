package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	eventBufferSize = 64
	maxFrameBytes   = 1 << 20

	// replyTimeout bounds how long a request/response frame may wait for
	// the bridge to answer.
	replyTimeout = 30 * time.Second
)

// Bridge is a Client backed by a WebSocket bridge endpoint. The bridge
// process speaks the actual messaging protocol; this client exchanges JSON
// frames with it. No compression is negotiated.
type Bridge struct {
	conn    *websocket.Conn
	events  chan Event
	limiter *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	selfID  string
	pending map[string]chan inboundFrame
	closed  bool
}

// inboundFrame is the wire shape of one frame from the bridge.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	State   string          `json:"state,omitempty"`
	Code    int             `json:"code,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	SelfID  string          `json:"self_id,omitempty"`
	Blob    []byte          `json:"blob,omitempty"`
	Message *RawMessage     `json:"message,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// outboundFrame is the wire shape of one frame to the bridge.
type outboundFrame struct {
	ID        string        `json:"id,omitempty"`
	Op        string        `json:"op"`
	SessionID string        `json:"session_id,omitempty"`
	Creds     []byte        `json:"creds,omitempty"`
	ChatID    string        `json:"chat_id,omitempty"`
	Text      string        `json:"text,omitempty"`
	Quote     *MessageKey   `json:"quote,omitempty"`
	Mentions  []string      `json:"mentions,omitempty"`
	Key       *MessageKey   `json:"key,omitempty"`
	Emoji     string        `json:"emoji,omitempty"`
	Prompt    *ButtonPrompt `json:"prompt,omitempty"`
	Document  *Document     `json:"document,omitempty"`
	Setting   string        `json:"setting,omitempty"`
	Value     string        `json:"value,omitempty"`
}

// NewDialer returns a Dialer that connects sessions through the bridge at
// wsURL. Outbound frames are paced to avoid tripping protocol-side flood
// detection.
func NewDialer(wsURL string) Dialer {
	return func(ctx context.Context, sessionID string, creds []byte) (Client, error) {
		return DialBridge(ctx, wsURL, sessionID, creds)
	}
}

// DialBridge connects to the bridge and performs the session handshake.
func DialBridge(ctx context.Context, wsURL, sessionID string, creds []byte) (*Bridge, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	b := &Bridge{
		conn:    conn,
		events:  make(chan Event, eventBufferSize),
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		pending: make(map[string]chan inboundFrame),
	}

	hello := outboundFrame{Op: "hello", SessionID: sessionID, Creds: creds}
	if err := b.writeFrame(ctx, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("bridge handshake: %w", err)
	}

	go b.readLoop()
	return b, nil
}

// SelfID returns the account identity reported by the bridge on open.
// Empty until the first open event has been processed.
func (b *Bridge) SelfID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selfID
}

// Events returns the inbound event stream.
func (b *Bridge) Events() <-chan Event { return b.events }

// SendText delivers a text message through the bridge.
func (b *Bridge) SendText(ctx context.Context, chatID, text string, quote *MessageKey, mentions []string) error {
	return b.writeFrame(ctx, outboundFrame{
		Op:       "send_text",
		ChatID:   chatID,
		Text:     text,
		Quote:    quote,
		Mentions: mentions,
	})
}

// React attaches an emoji reaction to a message.
func (b *Bridge) React(ctx context.Context, chatID string, key MessageKey, emoji string) error {
	return b.writeFrame(ctx, outboundFrame{
		Op:     "react",
		ChatID: chatID,
		Key:    &key,
		Emoji:  emoji,
	})
}

// SendButtons delivers an interactive button prompt.
func (b *Bridge) SendButtons(ctx context.Context, chatID string, prompt ButtonPrompt) error {
	return b.writeFrame(ctx, outboundFrame{
		Op:     "send_buttons",
		ChatID: chatID,
		Prompt: &prompt,
	})
}

// SendDocument delivers a file attachment.
func (b *Bridge) SendDocument(ctx context.Context, chatID string, doc Document, quote *MessageKey) error {
	return b.writeFrame(ctx, outboundFrame{
		Op:       "send_document",
		ChatID:   chatID,
		Document: &doc,
		Quote:    quote,
	})
}

// GroupParticipants fetches group members via a request/response frame pair.
func (b *Bridge) GroupParticipants(ctx context.Context, chatID string) ([]Participant, error) {
	resp, err := b.call(ctx, outboundFrame{Op: "group_participants", ChatID: chatID})
	if err != nil {
		return nil, err
	}
	var participants []Participant
	if err := json.Unmarshal(resp.Data, &participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return participants, nil
}

// UpdatePrivacy mutates one account privacy setting.
func (b *Bridge) UpdatePrivacy(ctx context.Context, setting, value string) error {
	_, err := b.call(ctx, outboundFrame{Op: "update_privacy", Setting: setting, Value: value})
	return err
}

// Close tears down the connection. Safe to call more than once; the event
// channel is closed by the read loop.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.conn.Close(websocket.StatusNormalClosure, "")
}

// call sends a frame carrying a request id and waits for the matching
// response frame.
func (b *Bridge) call(ctx context.Context, frame outboundFrame) (inboundFrame, error) {
	frame.ID = uuid.NewString()

	ch := make(chan inboundFrame, 1)
	b.mu.Lock()
	b.pending[frame.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, frame.ID)
		b.mu.Unlock()
	}()

	if err := b.writeFrame(ctx, frame); err != nil {
		return inboundFrame{}, err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return inboundFrame{}, fmt.Errorf("bridge %s: connection closed", frame.Op)
		}
		if !resp.OK {
			return inboundFrame{}, fmt.Errorf("bridge %s: %s", frame.Op, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return inboundFrame{}, fmt.Errorf("bridge %s: reply timeout", frame.Op)
	case <-ctx.Done():
		return inboundFrame{}, ctx.Err()
	}
}

// writeFrame marshals and sends one frame. Thread-safe and rate-paced.
func (b *Bridge) writeFrame(ctx context.Context, frame outboundFrame) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Op, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Op, err)
	}
	return nil
}

// readLoop reads frames until the connection dies, translating them into
// Events. It owns closing the event channel.
func (b *Bridge) readLoop() {
	defer func() {
		b.mu.Lock()
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
		close(b.events)
	}()

	ctx := context.Background()
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			code, reason := closeInfo(err)
			b.events <- ConnectEvent{
				State:     ConnClosed,
				Code:      code,
				Reason:    reason,
				LoggedOut: code == CloseCodeLoggedOut,
			}
			return
		}

		frame, err := decodeFrame(data)
		if err != nil {
			slog.Warn("bridge: dropping malformed frame", "error", err)
			continue
		}

		for _, ev := range frameEvents(frame) {
			if ce, ok := ev.(ConnectEvent); ok && ce.State == ConnOpen {
				b.mu.Lock()
				if frame.SelfID != "" {
					b.selfID = frame.SelfID
				}
				b.mu.Unlock()
			}
			b.events <- ev
		}

		if frame.Type == "response" {
			b.mu.Lock()
			ch, ok := b.pending[frame.ID]
			b.mu.Unlock()
			if ok {
				ch <- frame
			}
		}
	}
}

// decodeFrame parses one bridge frame.
func decodeFrame(data []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type == "" {
		return inboundFrame{}, fmt.Errorf("frame missing type")
	}
	return frame, nil
}

// frameEvents maps a decoded frame onto zero or more transport events.
func frameEvents(frame inboundFrame) []Event {
	switch frame.Type {
	case "creds":
		if len(frame.Blob) == 0 {
			return nil
		}
		return []Event{CredsEvent{Blob: frame.Blob}}
	case "connection":
		ev := ConnectEvent{
			State:  ConnState(frame.State),
			Code:   frame.Code,
			Reason: frame.Reason,
		}
		ev.LoggedOut = ev.Code == CloseCodeLoggedOut
		return []Event{ev}
	case "message":
		if frame.Message == nil {
			return nil
		}
		return []Event{MessageEvent{Raw: *frame.Message}}
	}
	return nil
}

// closeInfo extracts the close code and reason from a read error.
func closeInfo(err error) (int, string) {
	if code := websocket.CloseStatus(err); code != -1 {
		return int(code), err.Error()
	}
	return 1006, err.Error()
}
