// Package session implements the session lifecycle and message-routing core:
// connection supervision with credential persistence and bounded reconnect,
// the inbound classification pipeline, the interactive button dispatcher,
// and the per-sender wizard tracker.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/config"
	"github.com/kinyua-dev/cloudbot/internal/credstore"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// State is the connection lifecycle phase of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "error"
	}
	return "unknown"
}

// PluginRunner dispatches a command to externally supplied handlers.
// A handler signals non-claim with claimed == false rather than an error.
type PluginRunner interface {
	Execute(ctx context.Context, name string, m *Message) (claimed bool, err error)
	Names() []string
}

// Session is one independent authenticated connection plus its routing
// state. The credential blob is mutated only by this session; inbound
// events are handled sequentially, so ordering within a session holds.
type Session struct {
	ID string

	cfg      *config.Config
	dial     transport.Dialer
	store    credstore.Store // nil = in-memory only
	registry *Registry
	plugins  PluginRunner
	wizard   *Wizard

	// OnTerminated fires when the reconnect budget is exhausted and the
	// session will not come back without an external restart.
	OnTerminated func(sessionID string)

	startMu sync.Mutex // serializes Start

	mu             sync.Mutex
	state          State
	running        bool
	welcomed       bool
	client         transport.Client
	creds          []byte
	attempts       int
	reconnectTimer *time.Timer
	baseCtx        context.Context
	startedAt      time.Time
	lastActivity   time.Time
}

// New creates a session. creds may be nil; a persisted blob is loaded on
// Start when a store is available.
func New(id string, creds []byte, cfg *config.Config, dial transport.Dialer, store credstore.Store, reg *Registry, plugins PluginRunner) *Session {
	return &Session{
		ID:       id,
		cfg:      cfg,
		dial:     dial,
		store:    store,
		registry: reg,
		plugins:  plugins,
		wizard:   NewWizard(cfg.WizardTTL()),
		creds:    creds,
		state:    StateDisconnected,
	}
}

// Start establishes the connection, registers the session, and begins
// consuming the event stream. Calling Start while already connecting or
// connected is a no-op returning the existing connection handle.
func (s *Session) Start(ctx context.Context) (transport.Client, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		client := s.client
		s.mu.Unlock()
		slog.Debug("session already starting or started", "session_id", s.ID, "state", s.state.String())
		return client, nil
	}
	s.state = StateConnecting
	s.running = true
	s.welcomed = false
	s.baseCtx = ctx
	if s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	creds := s.creds
	s.mu.Unlock()

	// Without session secrets, try the persisted blob for this id first.
	if len(creds) == 0 && s.store != nil {
		blob, err := s.store.Load(ctx, s.ID)
		switch {
		case err == nil:
			slog.Info("loaded persisted credentials", "session_id", s.ID)
			s.mu.Lock()
			s.creds = blob
			s.mu.Unlock()
			creds = blob
		case !errors.Is(err, credstore.ErrNotFound):
			slog.Warn("credential load failed, connecting fresh", "session_id", s.ID, "error", err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout())
	defer cancel()

	client, err := s.dial(dialCtx, s.ID, creds)
	if err != nil {
		s.mu.Lock()
		s.state = StateErrored
		s.running = false
		s.mu.Unlock()
		return nil, fmt.Errorf("start session %s: %w", s.ID, err)
	}

	s.mu.Lock()
	s.client = client
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.registry.Register(s)
	go s.eventLoop(ctx, client)

	slog.Info("session started", "session_id", s.ID)
	return client, nil
}

// Stop tears the session down: cancels any pending reconnect, closes the
// transport (close errors are ignored), removes the registry entry, and
// clears wizard state. Idempotent and safe to call from a reconnect
// callback.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.state = StateStopped
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	s.registry.Remove(s.ID)
	s.wizard.Clear()

	slog.Info("session stopped", "session_id", s.ID)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the live connection handle, nil when not connected.
func (s *Session) Client() transport.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Attempts returns the current reconnect attempt counter.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Uptime reports how long the session has existed since first Start.
func (s *Session) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// LastActivity returns the last inbound-event or connect timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// eventLoop consumes the transport event stream until it closes. Events are
// handled sequentially; handling one message completes before the next
// begins, preserving per-session ordering.
func (s *Session) eventLoop(ctx context.Context, client transport.Client) {
	for ev := range client.Events() {
		switch ev := ev.(type) {
		case transport.CredsEvent:
			s.handleCreds(ctx, ev)
		case transport.ConnectEvent:
			if ev.State == transport.ConnOpen {
				s.handleOpen(ctx)
			} else {
				s.handleClose(ev)
			}
		case transport.MessageEvent:
			s.handleRaw(ctx, ev.Raw)
		}
	}
}

// handleCreds persists updated secrets. Persistence failures are logged,
// never fatal.
func (s *Session) handleCreds(ctx context.Context, ev transport.CredsEvent) {
	s.mu.Lock()
	s.creds = ev.Blob
	s.mu.Unlock()
	s.persistCreds(ctx)
}

// handleOpen marks the session connected and checkpoints credentials.
func (s *Session) handleOpen(ctx context.Context) {
	s.mu.Lock()
	s.state = StateConnected
	s.attempts = 0
	s.lastActivity = time.Now()
	welcome := !s.welcomed
	s.welcomed = true
	s.mu.Unlock()

	slog.Info("session connected", "session_id", s.ID)
	s.persistCreds(ctx)

	if welcome {
		go s.sendWelcome(ctx)
	}
}

// handleClose decides reconnect eligibility for a transport close.
func (s *Session) handleClose(ev transport.ConnectEvent) {
	s.mu.Lock()
	if !s.running || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected

	if ev.LoggedOut {
		s.mu.Unlock()
		slog.Info("session logged out, not reconnecting", "session_id", s.ID, "reason", ev.Reason)
		s.Stop()
		return
	}

	if s.attempts >= s.cfg.Reconnect.MaxAttempts {
		s.mu.Unlock()
		slog.Warn("reconnect budget exhausted, stopping permanently",
			"session_id", s.ID,
			"attempts", s.cfg.Reconnect.MaxAttempts,
		)
		s.Stop()
		if s.OnTerminated != nil {
			s.OnTerminated(s.ID)
		}
		return
	}

	s.attempts++
	attempt := s.attempts
	delay := reconnectDelay(s.cfg.ReconnectBase(), s.cfg.ReconnectCap(), attempt)
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)
	s.mu.Unlock()

	slog.Info("scheduling reconnect",
		"session_id", s.ID,
		"attempt", attempt,
		"max_attempts", s.cfg.Reconnect.MaxAttempts,
		"delay", delay,
		"close_code", ev.Code,
	)
}

// reconnect performs a full stop-then-start cycle. The running-flag check is
// the cancellation point for a Stop that raced with the timer.
func (s *Session) reconnect() {
	s.mu.Lock()
	running := s.running
	ctx := s.baseCtx
	s.mu.Unlock()
	if !running {
		return
	}

	slog.Info("reconnecting session", "session_id", s.ID)
	s.Stop()
	if _, err := s.Start(ctx); err != nil {
		slog.Error("reconnect failed", "session_id", s.ID, "error", err)
		s.mu.Lock()
		s.state = StateStopped
		s.running = false
		s.mu.Unlock()
	}
}

// reconnectDelay computes the linear capped backoff: min(base*attempt, cap).
func reconnectDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt)
	if d > cap {
		return cap
	}
	return d
}

// persistCreds saves the full credential blob keyed by session id.
func (s *Session) persistCreds(ctx context.Context) {
	s.mu.Lock()
	blob := s.creds
	s.mu.Unlock()

	if s.store == nil || len(blob) == 0 {
		return
	}
	if err := s.store.Save(ctx, s.ID, blob); err != nil {
		slog.Warn("credential save failed, session is non-durable", "session_id", s.ID, "error", err)
		return
	}
	slog.Debug("credentials persisted", "session_id", s.ID)
}

// sendWelcome posts the activation notice to the account's own chat.
// Best effort; failures are swallowed.
func (s *Session) sendWelcome(ctx context.Context) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || client.SelfID() == "" {
		return
	}

	text := fmt.Sprintf(
		"*Bot activated*\n\nSession: %s\nPrefix: %s\nSend %smenu for commands",
		s.ID, s.cfg.Prefix, s.cfg.Prefix,
	)
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout())
	defer cancel()
	if err := client.SendText(sendCtx, client.SelfID(), text, nil, nil); err != nil {
		slog.Debug("welcome message failed", "session_id", s.ID, "error", err)
	}
}

// statusText renders the session status block used by the status command
// and button.
func (s *Session) statusText() string {
	s.mu.Lock()
	state := s.state
	attempts := s.attempts
	last := s.lastActivity
	s.mu.Unlock()

	uptime := s.Uptime()
	return fmt.Sprintf(
		"*Status*\n\n• Session: %s\n• State: %s\n• Uptime: %dh %dm\n• Reconnects: %d/%d\n• Last activity: %s",
		s.ID,
		state.String(),
		int(uptime.Hours()),
		int(uptime.Minutes())%60,
		attempts,
		s.cfg.Reconnect.MaxAttempts,
		last.Format("15:04:05"),
	)
}
