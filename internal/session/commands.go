package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// runBuiltin handles the commands baked into the session itself. Anything
// plugin-shaped has already had its chance in dispatchCommand.
func (s *Session) runBuiltin(ctx context.Context, m *Message) {
	switch m.Command {
	case "ping":
		s.replyPing(ctx, m)
	case "status":
		s.reply(ctx, m, s.statusText())
	case "plugins", "pl":
		s.replyPlugins(ctx, m)
	case "menu":
		// Reached only without a registered menu plugin; fall back to the
		// plain command list.
		s.replyPlugins(ctx, m)
	default:
		s.reply(ctx, m, fmt.Sprintf("Unknown command `%s%s`. Send %smenu for the available commands.", s.cfg.Prefix, m.Command, s.cfg.Prefix))
	}
}

func (s *Session) replyPing(ctx context.Context, m *Message) {
	latency := time.Since(m.Timestamp).Round(time.Millisecond)
	if latency < 0 {
		latency = 0
	}
	s.reply(ctx, m, fmt.Sprintf("🏓 Pong!\n\n• Latency: %s\n• Session: %s", latency, s.ID))
}

func (s *Session) replyPlugins(ctx context.Context, m *Message) {
	builtin := []string{"ping", "status", "plugins"}

	var names []string
	if s.plugins != nil {
		names = s.plugins.Names()
	}

	var sb strings.Builder
	sb.WriteString("*Available commands*\n")
	for _, n := range builtin {
		fmt.Fprintf(&sb, "\n• %s%s", s.cfg.Prefix, n)
	}
	for _, n := range names {
		fmt.Fprintf(&sb, "\n• %s%s", s.cfg.Prefix, n)
	}
	s.reply(ctx, m, sb.String())
}
