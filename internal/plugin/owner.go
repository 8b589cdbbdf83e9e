package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// Owner replies with the configured owner contacts as a vCard document.
type Owner struct {
	owners []string
}

func NewOwner(owners []string) *Owner { return &Owner{owners: owners} }

func (p *Owner) Name() string        { return "owner" }
func (p *Owner) Description() string { return "Show the bot owner contacts" }

func (p *Owner) Run(ctx context.Context, m *session.Message) error {
	if len(p.owners) == 0 {
		return m.Reply(ctx, "No owner contact is configured.")
	}

	var sb strings.Builder
	for i, number := range p.owners {
		name := fmt.Sprintf("Bot Owner %d", i+1)
		fmt.Fprintf(&sb, "BEGIN:VCARD\nVERSION:3.0\nN:%s;;;;\nFN:%s\nTEL;TYPE=CELL:%s\nEND:VCARD\n\n", name, name, number)
	}

	doc := transport.Document{
		FileName: "owner.vcf",
		MimeType: "text/vcard",
		Caption:  fmt.Sprintf("*Bot owner*\n\nContacts: %d", len(p.owners)),
		Data:     []byte(sb.String()),
	}
	key := m.Key
	return m.Client().SendDocument(ctx, m.ChatID, doc, &key)
}
