package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// TagAll mentions every group member. With arguments it broadcasts them as
// the tag text right away; without, it offers the tag options panel.
type TagAll struct{}

func NewTagAll() *TagAll { return &TagAll{} }

func (p *TagAll) Name() string        { return "tagall" }
func (p *TagAll) Description() string { return "Mention all group members" }

func (p *TagAll) Run(ctx context.Context, m *session.Message) error {
	if !m.IsGroup {
		return m.Reply(ctx, "This command only works in groups.")
	}

	participants, err := m.Client().GroupParticipants(ctx, m.ChatID)
	if err != nil {
		if rerr := m.Reply(ctx, "Error fetching group members."); rerr != nil {
			return rerr
		}
		return fmt.Errorf("group participants: %w", err)
	}
	if len(participants) == 0 {
		return m.Reply(ctx, "Nobody to tag.")
	}

	if m.Args != "" {
		return broadcast(ctx, m, participants, m.Args)
	}

	prompt := transport.ButtonPrompt{
		Title:  "Tag members",
		Text:   fmt.Sprintf("Members: %d\n\nHow do you want to tag them?", len(participants)),
		Footer: "Mentions are added automatically",
		Buttons: []transport.Button{
			{ID: "btn_tag_all", Text: "Everyone"},
			{ID: "btn_tag_admins", Text: "Admins only"},
			{ID: "btn_tag_custom", Text: "Custom message"},
			{ID: "btn_tag_cancel", Text: "Cancel"},
		},
	}
	return m.Client().SendButtons(ctx, m.ChatID, prompt)
}

// broadcast sends one message mentioning every participant.
func broadcast(ctx context.Context, m *session.Message, participants []transport.Participant, text string) error {
	mentions := make([]string, len(participants))
	handles := make([]string, len(participants))
	for i, part := range participants {
		mentions[i] = part.ID
		number, _, _ := strings.Cut(part.ID, "@")
		handles[i] = "@" + number
	}

	body := fmt.Sprintf(
		"*%s*\n\n%s\n\nTagged by: @%s\n%s",
		text,
		strings.Join(handles, " "),
		m.SenderNumber(),
		time.Now().Format("02/01/2006"),
	)

	key := m.Key
	return m.Client().SendText(ctx, m.ChatID, body, &key, mentions)
}
