package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/config"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

type fakeRunner struct {
	mu     sync.Mutex
	claims map[string]bool
	err    error
	calls  []string
}

func (r *fakeRunner) Execute(_ context.Context, name string, _ *Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if r.claims[name] {
		return true, r.err
	}
	return false, nil
}

func (r *fakeRunner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.claims))
	for n := range r.claims {
		names = append(names, n)
	}
	return names
}

func (r *fakeRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// routedSession builds a connected session with the client injected
// directly, bypassing the dialer.
func routedSession(cfg *config.Config, fc *fakeClient, plugins PluginRunner) *Session {
	s := New("s1", nil, cfg, nil, nil, NewRegistry(), plugins)
	s.mu.Lock()
	s.client = fc
	s.state = StateConnected
	s.running = true
	s.mu.Unlock()
	return s
}

func textRaw(chatID, participant, body string) transport.RawMessage {
	return transport.RawMessage{
		Key: transport.MessageKey{
			ID:          "MSG1",
			ChatID:      chatID,
			Participant: participant,
		},
		PushName:     "Alice",
		Timestamp:    time.Now(),
		Conversation: body,
	}
}

func TestNativeReplyWinsOverCommandText(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	s := routedSession(testConfig(), fc, nil)

	raw := textRaw("123@s.whatsapp.net", "", ".status")
	raw.ButtonReplyID = "btn_ping"
	s.handleRaw(context.Background(), raw)

	texts := fc.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sends = %d, want 1", len(texts))
	}
	if !strings.Contains(texts[0].text, "Pong") {
		t.Errorf("native reply not routed to the button action: %q", texts[0].text)
	}
	if strings.Contains(texts[0].text, "*Status*") {
		t.Error("body text was re-interpreted as a command despite the native reply")
	}
}

func TestEmptyBodyDropped(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	cfg := testConfig()
	cfg.AutoReact = true
	s := routedSession(cfg, fc, nil)

	s.handleRaw(context.Background(), transport.RawMessage{
		Key: transport.MessageKey{ID: "MSG1", ChatID: "123@s.whatsapp.net"},
	})

	time.Sleep(20 * time.Millisecond)
	if n := len(fc.sentTexts()); n != 0 {
		t.Errorf("sends = %d, want 0 for an empty event", n)
	}
	fc.mu.Lock()
	reactions := len(fc.reactions)
	fc.mu.Unlock()
	if reactions != 0 {
		t.Error("auto-reaction fired on a dropped event")
	}
}

func TestLegacyButtonBodyMatchesNativeReply(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	s := routedSession(testConfig(), fc, nil)

	s.handleRaw(context.Background(), textRaw("123@s.whatsapp.net", "", "btn_ping"))

	texts := fc.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0].text, "Pong") {
		t.Fatalf("legacy button body not dispatched as a button: %v", texts)
	}
}

func TestWizardConsumedExactlyOnce(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	s := routedSession(testConfig(), fc, nil)

	members := []transport.Participant{
		{ID: "111@s.whatsapp.net"},
		{ID: "222@s.whatsapp.net"},
	}
	s.wizard.Set("888@s.whatsapp.net", WizardState{Tag: TagCustomMessage, Participants: members})

	raw := textRaw("999@g.us", "888@s.whatsapp.net", "Meeting for {count} people")
	s.handleRaw(context.Background(), raw)

	texts := fc.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sends = %d, want 1 broadcast", len(texts))
	}
	if !strings.Contains(texts[0].text, "Meeting for 2 people") {
		t.Errorf("placeholder not interpolated: %q", texts[0].text)
	}
	if len(texts[0].mentions) != 2 {
		t.Errorf("mentions = %d, want 2", len(texts[0].mentions))
	}

	// The same message again must not re-trigger the wizard.
	s.handleRaw(context.Background(), raw)
	if n := len(fc.sentTexts()); n != 1 {
		t.Errorf("sends after replay = %d, want 1 (state must be consumed)", n)
	}
}

func TestPluginClaimShadowsBuiltin(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	runner := &fakeRunner{claims: map[string]bool{"ping": true}}
	s := routedSession(testConfig(), fc, runner)

	s.handleRaw(context.Background(), textRaw("123@s.whatsapp.net", "", ".ping"))

	if got := runner.executed(); len(got) != 1 || got[0] != "ping" {
		t.Fatalf("plugin calls = %v, want [ping]", got)
	}
	for _, txt := range fc.sentTexts() {
		if strings.Contains(txt.text, "Pong") {
			t.Error("builtin ran although the plugin claimed the command")
		}
	}
}

func TestPluginErrorSendsFailureNotice(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	runner := &fakeRunner{claims: map[string]bool{"boom": true}, err: errors.New("kaput")}
	s := routedSession(testConfig(), fc, runner)

	s.handleRaw(context.Background(), textRaw("123@s.whatsapp.net", "", ".boom"))

	texts := fc.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0].text, "Something went wrong") {
		t.Fatalf("no failure notice after plugin error: %v", texts)
	}
}

func TestUnknownCommandHint(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	s := routedSession(testConfig(), fc, nil)

	s.handleRaw(context.Background(), textRaw("123@s.whatsapp.net", "", ".nosuchcmd"))

	texts := fc.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0].text, "Unknown command") {
		t.Fatalf("no usage hint for unknown command: %v", texts)
	}
}

func TestNonCommandTextIgnored(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	s := routedSession(testConfig(), fc, nil)

	s.handleRaw(context.Background(), textRaw("123@s.whatsapp.net", "", "just chatting"))

	if n := len(fc.sentTexts()); n != 0 {
		t.Errorf("sends = %d, want 0 for plain conversation", n)
	}
}

func TestInterpolateTagText(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	got := interpolateTagText("Hi {count} at {time} on {date}", 7, now)
	want := "Hi 7 at 15:09:26 on 14/03/2025"
	if got != want {
		t.Errorf("interpolateTagText = %q, want %q", got, want)
	}

	if got := interpolateTagText("no placeholders", 3, now); got != "no placeholders" {
		t.Errorf("plain text changed: %q", got)
	}
}
