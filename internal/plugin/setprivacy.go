package plugin

import (
	"context"

	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// SetPrivacy opens the account privacy panel. The panel itself is visible
// to anyone; applying a value is restricted to owners at dispatch time.
type SetPrivacy struct {
	isOwner func(sender string) bool
}

func NewSetPrivacy(isOwner func(sender string) bool) *SetPrivacy {
	return &SetPrivacy{isOwner: isOwner}
}

func (p *SetPrivacy) Name() string        { return "setprivacy" }
func (p *SetPrivacy) Description() string { return "Change account privacy settings" }

func (p *SetPrivacy) Run(ctx context.Context, m *session.Message) error {
	if p.isOwner != nil && !p.isOwner(m.Sender) {
		return m.Reply(ctx, "This command is owner-only.")
	}

	prompt := transport.ButtonPrompt{
		Title:  "Privacy settings",
		Text:   "Which setting do you want to change?",
		Footer: "Applies to the connected account",
		Buttons: []transport.Button{
			{ID: "btn_priv_lastseen", Text: "Last seen"},
			{ID: "btn_priv_profile", Text: "Profile photo"},
			{ID: "btn_priv_status", Text: "Status"},
			{ID: "btn_priv_groupadd", Text: "Group invites"},
			{ID: "btn_priv_disappear", Text: "Disappearing messages"},
			{ID: "btn_priv_cancel", Text: "Cancel"},
		},
	}
	return m.Client().SendButtons(ctx, m.ChatID, prompt)
}
