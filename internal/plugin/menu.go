package plugin

import (
	"context"
	"fmt"

	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// Menu presents the main command overview with quick-action buttons.
type Menu struct {
	prefix string
}

func NewMenu(prefix string) *Menu { return &Menu{prefix: prefix} }

func (p *Menu) Name() string        { return "menu" }
func (p *Menu) Description() string { return "Show the main menu" }

func (p *Menu) Run(ctx context.Context, m *session.Message) error {
	text := fmt.Sprintf(
		"*Main menu*\n\n"+
			"• %sping — check responsiveness\n"+
			"• %sstatus — session details\n"+
			"• %stagall — mention group members\n"+
			"• %svcf — export group contacts\n"+
			"• %ssetprivacy — account privacy\n"+
			"• %splugins — full command list",
		p.prefix, p.prefix, p.prefix, p.prefix, p.prefix, p.prefix,
	)

	prompt := transport.ButtonPrompt{
		Title:  "CloudBot",
		Text:   text,
		Footer: "Pick an option below",
		Buttons: []transport.Button{
			{ID: "btn_ping", Text: "Ping"},
			{ID: "btn_status", Text: "Status"},
			{ID: "btn_owner", Text: "Owner"},
			{ID: "btn_plugins", Text: "Plugins"},
		},
	}
	return m.Client().SendButtons(ctx, m.ChatID, prompt)
}
