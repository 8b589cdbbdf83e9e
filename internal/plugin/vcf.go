package plugin

import (
	"context"
	"fmt"

	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// VCF offers the group contact export panel.
type VCF struct{}

func NewVCF() *VCF { return &VCF{} }

func (p *VCF) Name() string        { return "vcf" }
func (p *VCF) Description() string { return "Export group contacts as a vCard file" }

func (p *VCF) Run(ctx context.Context, m *session.Message) error {
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

	admins := 0
	for _, part := range participants {
		if part.Admin {
			admins++
		}
	}

	prompt := transport.ButtonPrompt{
		Title:  "Contact export",
		Text:   fmt.Sprintf("Members: %d\nAdmins: %d\n\nWhich contacts do you want?", len(participants), admins),
		Footer: "The file is sent as a .vcf document",
		Buttons: []transport.Button{
			{ID: "btn_vcf_all", Text: "All members"},
			{ID: "btn_vcf_admins", Text: "Admins only"},
			{ID: "btn_vcf_cancel", Text: "Cancel"},
		},
	}
	return m.Client().SendButtons(ctx, m.ChatID, prompt)
}
