package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/config"
	"github.com/kinyua-dev/cloudbot/internal/credstore"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// --- fakes ---

type sentText struct {
	chatID   string
	text     string
	quoted   bool
	mentions []string
}

type privacyCall struct {
	setting string
	value   string
}

type fakeClient struct {
	mu           sync.Mutex
	self         string
	events       chan transport.Event
	closeOnce    sync.Once
	texts        []sentText
	reactions    []string
	prompts      []transport.ButtonPrompt
	docs         []transport.Document
	privacy      []privacyCall
	participants []transport.Participant
	partErr      error
	closed       bool
}

func newFakeClient(self string) *fakeClient {
	return &fakeClient{
		self:   self,
		events: make(chan transport.Event, 16),
	}
}

func (f *fakeClient) SelfID() string                 { return f.self }
func (f *fakeClient) Events() <-chan transport.Event { return f.events }

func (f *fakeClient) SendText(_ context.Context, chatID, text string, quote *transport.MessageKey, mentions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, quoted: quote != nil, mentions: mentions})
	return nil
}

func (f *fakeClient) React(_ context.Context, _ string, _ transport.MessageKey, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return nil
}

func (f *fakeClient) SendButtons(_ context.Context, _ string, prompt transport.ButtonPrompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return nil
}

func (f *fakeClient) SendDocument(_ context.Context, _ string, doc transport.Document, _ *transport.MessageKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeClient) GroupParticipants(_ context.Context, _ string) ([]transport.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants, f.partErr
}

func (f *fakeClient) UpdatePrivacy(_ context.Context, setting, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.privacy = append(f.privacy, privacyCall{setting: setting, value: value})
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeClient) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

func (f *fakeClient) privacyCalls() []privacyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]privacyCall(nil), f.privacy...)
}

// memStore is an in-memory credstore.Store for lifecycle tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func newMemStore() *memStore { return &memStore{blobs: make(map[string][]byte)} }

func (s *memStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (s *memStore) Save(_ context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = append([]byte(nil), blob...)
	s.saves++
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

func (s *memStore) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Prefix = "."
	cfg.AutoReact = false
	cfg.Reconnect.MaxAttempts = 3
	cfg.Reconnect.BaseDelayMS = 1
	cfg.Reconnect.CapDelayMS = 5
	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

// --- lifecycle tests ---

func TestStartIdempotent(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	dials := 0
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) {
		dials++
		return fc, nil
	}

	s := New("s1", nil, testConfig(), dial, nil, NewRegistry(), nil)
	c1, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	c2, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if c1 != c2 {
		t.Error("second Start returned a different client handle")
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
	s.Stop()
}

func TestStartRegistersAndStopRemoves(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) { return fc, nil }
	reg := NewRegistry()

	s := New("s1", nil, testConfig(), dial, nil, reg, nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Lookup("s1"); !ok {
		t.Fatal("session not registered after Start")
	}

	s.Stop()
	if _, ok := reg.Lookup("s1"); ok {
		t.Error("session still registered after Stop")
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
	// Stop is idempotent.
	s.Stop()
}

func TestStartDialFailure(t *testing.T) {
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) {
		return nil, errors.New("bridge unreachable")
	}

	s := New("s1", nil, testConfig(), dial, nil, NewRegistry(), nil)
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("want error from failed dial")
	}
	if got := s.State(); got != StateErrored {
		t.Errorf("state = %s, want error", got)
	}
}

func TestLoggedOutNeverReconnects(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	dials := 0
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) {
		dials++
		return fc, nil
	}
	reg := NewRegistry()

	s := New("s1", nil, testConfig(), dial, nil, reg, nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	fc.events <- transport.ConnectEvent{
		State:     transport.ConnClosed,
		Code:      transport.CloseCodeLoggedOut,
		LoggedOut: true,
	}

	waitFor(t, time.Second, func() bool { return s.State() == StateStopped })
	if _, ok := reg.Lookup("s1"); ok {
		t.Error("logged-out session still registered")
	}

	// A grace period for any erroneously scheduled reconnect.
	time.Sleep(20 * time.Millisecond)
	if dials != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after logout)", dials)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		fc := newFakeClient("self@s.whatsapp.net")
		// Every connection drops immediately with a retryable close.
		fc.events <- transport.ConnectEvent{State: transport.ConnClosed, Code: 1006}
		return fc, nil
	}

	terminated := make(chan string, 1)
	s := New("s1", nil, testConfig(), dial, nil, NewRegistry(), nil)
	s.OnTerminated = func(id string) { terminated <- id }

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-terminated:
		if id != "s1" {
			t.Errorf("terminated id = %q, want s1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("termination hook never fired")
	}

	if got := s.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
	mu.Lock()
	defer mu.Unlock()
	// Initial dial plus one per scheduled reconnect.
	if want := 1 + 3; dials != want {
		t.Errorf("dials = %d, want %d", dials, want)
	}
}

func TestReconnectDelay(t *testing.T) {
	base := 5 * time.Second
	limit := 30 * time.Second
	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second,
		20 * time.Second, 25 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := reconnectDelay(base, limit, i+1); got != w {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, got, w)
		}
	}
}

func TestCredsPersistedOnUpdateAndOpen(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) { return fc, nil }
	store := newMemStore()

	s := New("s1", nil, testConfig(), dial, store, NewRegistry(), nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	blob := []byte(`{"noiseKey":"abc"}`)
	fc.events <- transport.CredsEvent{Blob: blob}
	fc.events <- transport.ConnectEvent{State: transport.ConnOpen}

	waitFor(t, time.Second, func() bool {
		got, err := store.Load(context.Background(), "s1")
		return err == nil && string(got) == string(blob)
	})
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
	s.Stop()
}

func TestStartLoadsPersistedCreds(t *testing.T) {
	store := newMemStore()
	saved := []byte("persisted-blob")
	if err := store.Save(context.Background(), "s1", saved); err != nil {
		t.Fatal(err)
	}

	var gotCreds []byte
	dial := func(_ context.Context, _ string, creds []byte) (transport.Client, error) {
		gotCreds = creds
		return newFakeClient("self@s.whatsapp.net"), nil
	}

	s := New("s1", nil, testConfig(), dial, store, NewRegistry(), nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if string(gotCreds) != string(saved) {
		t.Errorf("dialed with creds %q, want persisted blob", gotCreds)
	}
	s.Stop()
}

func TestOpenResetsAttemptsAndWelcomes(t *testing.T) {
	fc := newFakeClient("self@s.whatsapp.net")
	dial := func(_ context.Context, _ string, _ []byte) (transport.Client, error) { return fc, nil }

	s := New("s1", nil, testConfig(), dial, nil, NewRegistry(), nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.attempts = 2
	s.mu.Unlock()

	fc.events <- transport.ConnectEvent{State: transport.ConnOpen}

	waitFor(t, time.Second, func() bool { return s.Attempts() == 0 })
	waitFor(t, time.Second, func() bool {
		for _, txt := range fc.sentTexts() {
			if txt.chatID == "self@s.whatsapp.net" && strings.Contains(txt.text, "Bot activated") {
				return true
			}
		}
		return false
	})
	s.Stop()
}
