package session

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// legacyButtonPrefix marks plain-text bodies that are really button
// identifiers echoed by older clients.
const legacyButtonPrefix = "btn_"

var autoReactEmojis = []string{"❤️", "😂", "😮", "👏", "🔥", "⭐", "🎉"}

// handleRaw converts one raw inbound event into exactly one routing
// decision. Classification short-circuits in strict precedence order:
// native interactive reply, empty-body drop, pending wizard state, legacy
// text-encoded button, command, built-in fallback. The auto-reaction side
// effect runs independently alongside whichever branch handled the event.
func (s *Session) handleRaw(ctx context.Context, raw transport.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dropping event after routing panic",
				"session_id", s.ID,
				"message_id", raw.Key.ID,
				"panic", r,
			)
		}
	}()

	s.mu.Lock()
	s.lastActivity = time.Now()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}

	m := NewMessage(raw, client, s.cfg.SendTimeout())

	// Native button/list/template replies may carry no usable free text,
	// or text that must not be re-interpreted as a command. They always
	// win over text classification.
	if id := raw.NativeReplyID(); id != "" {
		s.dispatchButton(ctx, m, id)
		s.maybeAutoReact(ctx, m)
		return
	}

	if m.Body == "" {
		return
	}

	if st, ok := s.wizard.Consume(m.Sender); ok {
		s.completeWizard(ctx, m, st)
		s.maybeAutoReact(ctx, m)
		return
	}

	if strings.HasPrefix(m.Body, legacyButtonPrefix) {
		s.dispatchButton(ctx, m, m.Body)
		s.maybeAutoReact(ctx, m)
		return
	}

	if m.ParseCommand(s.cfg.Prefix) {
		s.dispatchCommand(ctx, m)
	}

	s.maybeAutoReact(ctx, m)
}

// dispatchCommand tries the plugin contract first, then the built-in set.
func (s *Session) dispatchCommand(ctx context.Context, m *Message) {
	slog.Debug("command received",
		"session_id", s.ID,
		"command", m.Command,
		"sender", m.SenderNumber(),
	)

	if s.plugins != nil {
		claimed, err := s.plugins.Execute(ctx, m.Command, m)
		if err != nil {
			slog.Warn("plugin failed",
				"session_id", s.ID,
				"command", m.Command,
				"error", err,
			)
			if rerr := m.Reply(ctx, "Something went wrong running that command. Please try again."); rerr != nil {
				slog.Debug("failure notice send failed", "session_id", s.ID, "error", rerr)
			}
			return
		}
		if claimed {
			return
		}
	}

	s.runBuiltin(ctx, m)
}

// maybeAutoReact attaches a random reaction when the feature is enabled and
// the message is not the bot's own. Runs asynchronously; failures are
// swallowed.
func (s *Session) maybeAutoReact(ctx context.Context, m *Message) {
	if !s.cfg.AutoReact || m.FromSelf {
		return
	}
	emoji := autoReactEmojis[rand.Intn(len(autoReactEmojis))]
	go func() {
		if err := m.React(ctx, emoji); err != nil {
			slog.Debug("auto-reaction failed", "session_id", s.ID, "error", err)
		}
	}()
}

// completeWizard performs the deferred action for a consumed pending state.
// Unknown tags are silently dropped.
func (s *Session) completeWizard(ctx context.Context, m *Message, st *WizardState) {
	switch st.Tag {
	case TagCustomMessage:
		s.broadcastTag(ctx, m, st.Participants, interpolateTagText(m.Body, len(st.Participants), time.Now()))
	case TagPrivacyValue:
		s.applyPrivacy(ctx, m, st.Setting, strings.TrimSpace(m.Body))
	default:
		slog.Debug("dropping unknown wizard tag", "session_id", s.ID, "tag", string(st.Tag))
	}
}

// interpolateTagText substitutes the {count}/{time}/{date} placeholder
// tokens of a custom broadcast text.
func interpolateTagText(text string, count int, now time.Time) string {
	r := strings.NewReplacer(
		"{count}", strconv.Itoa(count),
		"{time}", now.Format("15:04:05"),
		"{date}", now.Format("02/01/2006"),
	)
	return r.Replace(text)
}
