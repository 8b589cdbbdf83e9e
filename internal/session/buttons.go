package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// buttonFamily groups related button identifiers. Parametrized identifiers
// (the settings family) carry their parameters in fixed underscore-delimited
// positions.
type buttonFamily int

const (
	famCore buttonFamily = iota
	famVCF
	famView
	famURL
	famTag
	famPriv
)

// buttonID is one parsed button identifier.
type buttonID struct {
	family  buttonFamily
	action  string
	setting string
	value   string
}

// parseButton normalizes a raw identifier (adding the reserved prefix when
// missing) and splits it into family, action, and parameters.
func parseButton(raw string) buttonID {
	id := raw
	if !strings.HasPrefix(id, legacyButtonPrefix) {
		id = legacyButtonPrefix + id
	}
	token := strings.TrimPrefix(id, legacyButtonPrefix)

	fam, rest, _ := strings.Cut(token, "_")
	switch fam {
	case "vcf":
		return buttonID{family: famVCF, action: rest}
	case "view":
		return buttonID{family: famView, action: rest}
	case "url":
		return buttonID{family: famURL, action: rest}
	case "tag":
		return buttonID{family: famTag, action: rest}
	case "priv":
		if after, ok := strings.CutPrefix(rest, "set_"); ok {
			if setting, value, ok := strings.Cut(after, "_"); ok {
				return buttonID{family: famPriv, action: "set", setting: setting, value: value}
			}
		}
		return buttonID{family: famPriv, action: rest}
	default:
		return buttonID{family: famCore, action: token}
	}
}

// dispatchButton routes one normalized button identifier to its action.
func (s *Session) dispatchButton(ctx context.Context, m *Message, raw string) {
	btn := parseButton(raw)
	slog.Debug("button dispatched",
		"session_id", s.ID,
		"button", raw,
		"sender", m.SenderNumber(),
	)

	// Acknowledgement reaction before the main work; best effort.
	if err := m.React(ctx, "✅"); err != nil {
		slog.Debug("button ack reaction failed", "session_id", s.ID, "error", err)
	}

	switch btn.family {
	case famCore:
		s.runCoreButton(ctx, m, btn.action)
	case famVCF:
		s.runVCFButton(ctx, m, btn.action)
	case famView:
		s.runViewButton(ctx, m, btn.action)
	case famURL:
		s.runURLButton(ctx, m, btn.action)
	case famTag:
		s.runTagButton(ctx, m, btn.action)
	case famPriv:
		s.runPrivButton(ctx, m, btn)
	}
}

func (s *Session) runCoreButton(ctx context.Context, m *Message, action string) {
	switch action {
	case "menu":
		if s.plugins == nil {
			s.replyPlugins(ctx, m)
			return
		}
		s.delegateToPlugin(ctx, m, "menu")
	case "ping":
		s.replyPing(ctx, m)
	case "owner":
		s.delegateToPlugin(ctx, m, "owner")
	case "play":
		s.reply(ctx, m, fmt.Sprintf("Use `%splay song name` to search for music", s.cfg.Prefix))
	case "status":
		s.reply(ctx, m, s.statusText())
	case "plugins":
		s.replyPlugins(ctx, m)
	default:
		s.unknownButton(ctx, m, action)
	}
}

func (s *Session) runVCFButton(ctx context.Context, m *Message, action string) {
	switch action {
	case "all", "admins":
		s.exportContacts(ctx, m, action)
	case "cancel":
		s.reply(ctx, m, "Contact export cancelled.")
	default:
		s.unknownButton(ctx, m, action)
	}
}

func (s *Session) runViewButton(ctx context.Context, m *Message, action string) {
	switch action {
	case "info":
		info := fmt.Sprintf(
			"*Message information*\n\n• ID: %s\n• Chat: %s\n• Timestamp: %s\n• Sender: %s",
			m.ID, m.ChatID, m.Timestamp.Format(time.RFC822), m.PushName,
		)
		s.reply(ctx, m, info)
	case "help":
		s.reply(ctx, m, fmt.Sprintf("Reply to any media message with %sview to inspect it.", s.cfg.Prefix))
	case "back":
		s.reply(ctx, m, "Returning to main menu...")
	case "cancel":
		s.reply(ctx, m, "Operation cancelled.")
	default:
		s.unknownButton(ctx, m, action)
	}
}

func (s *Session) runURLButton(ctx context.Context, m *Message, action string) {
	switch action {
	case "help":
		s.reply(ctx, m, fmt.Sprintf("Reply to a media message with %surl, then pick an upload service.", s.cfg.Prefix))
	case "copy":
		s.reply(ctx, m, "Copy the URL from the message above.")
	case "new":
		s.reply(ctx, m, fmt.Sprintf("Send %surl again with a new media file.", s.cfg.Prefix))
	case "cancel", "done":
		s.reply(ctx, m, "Upload finished.")
	default:
		s.unknownButton(ctx, m, action)
	}
}

func (s *Session) runTagButton(ctx context.Context, m *Message, action string) {
	switch action {
	case "all":
		s.tagGroup(ctx, m, false, "*Everyone!*")
	case "admins":
		s.tagGroup(ctx, m, true, "*Admins!*")
	case "default":
		s.tagGroup(ctx, m, false, "*Attention everyone!*")
	case "custom":
		s.requestCustomTagMessage(ctx, m)
	case "cancel":
		s.reply(ctx, m, "Tagging cancelled.")
	default:
		s.unknownButton(ctx, m, action)
	}
}

func (s *Session) runPrivButton(ctx context.Context, m *Message, btn buttonID) {
	switch btn.action {
	case "set":
		s.wizard.Consume(m.Sender) // pressed instead of typing
		s.applyPrivacy(ctx, m, btn.setting, btn.value)
	case "lastseen", "profile", "status", "groupadd", "disappear":
		s.showPrivacyOptions(ctx, m, btn.action)
	case "back", "more":
		s.wizard.Consume(m.Sender)
		s.delegateToPlugin(ctx, m, "setprivacy")
	case "cancel", "done":
		s.wizard.Consume(m.Sender)
		s.reply(ctx, m, "Privacy settings closed.")
	default:
		s.unknownButton(ctx, m, btn.action)
	}
}

// unknownButton is the fallback for unmatched identifiers. Cancel/done
// tokens of any family are acknowledged; everything else gets a hint.
func (s *Session) unknownButton(ctx context.Context, m *Message, action string) {
	if strings.Contains(action, "cancel") || strings.Contains(action, "done") {
		s.reply(ctx, m, "Done.")
		return
	}
	slog.Debug("unknown button identifier", "session_id", s.ID, "action", action)
	s.reply(ctx, m, fmt.Sprintf("Unknown button action. Send %smenu for the available options.", s.cfg.Prefix))
}

// delegateToPlugin runs a named plugin for a button action.
func (s *Session) delegateToPlugin(ctx context.Context, m *Message, name string) {
	if s.plugins == nil {
		return
	}
	claimed, err := s.plugins.Execute(ctx, name, m)
	if err != nil {
		slog.Warn("plugin failed", "session_id", s.ID, "command", name, "error", err)
		s.reply(ctx, m, "Something went wrong. Please try again.")
		return
	}
	if !claimed {
		slog.Debug("no plugin registered for button delegate", "session_id", s.ID, "command", name)
	}
}

// --- Group tagging ---

// tagParticipants resolves group members, preferring interaction seed data
// attached earlier in the same exchange.
func (s *Session) tagParticipants(ctx context.Context, m *Message) ([]transport.Participant, error) {
	if m.Seed != nil && len(m.Seed.Participants) > 0 {
		return m.Seed.Participants, nil
	}
	if !m.IsGroup {
		return nil, fmt.Errorf("chat %s is not a group", m.ChatID)
	}
	return m.Client().GroupParticipants(ctx, m.ChatID)
}

func (s *Session) tagGroup(ctx context.Context, m *Message, adminsOnly bool, header string) {
	participants, err := s.tagParticipants(ctx, m)
	if err != nil {
		slog.Warn("participant lookup failed", "session_id", s.ID, "chat_id", m.ChatID, "error", err)
		s.reply(ctx, m, "Tagging only works in groups.")
		return
	}
	if adminsOnly {
		admins := participants[:0:0]
		for _, p := range participants {
			if p.Admin {
				admins = append(admins, p)
			}
		}
		participants = admins
	}
	if len(participants) == 0 {
		s.reply(ctx, m, "Nobody to tag.")
		return
	}
	s.broadcastTag(ctx, m, participants, header)
}

// broadcastTag sends one message mentioning every participant.
func (s *Session) broadcastTag(ctx context.Context, m *Message, participants []transport.Participant, text string) {
	if len(participants) == 0 {
		return
	}

	mentions := make([]string, len(participants))
	handles := make([]string, len(participants))
	for i, p := range participants {
		mentions[i] = p.ID
		number, _, _ := strings.Cut(p.ID, "@")
		handles[i] = "@" + number
	}

	body := fmt.Sprintf(
		"%s\n\n%s\n\nTagged by: @%s\n%s",
		text,
		strings.Join(handles, " "),
		m.SenderNumber(),
		time.Now().Format("02/01/2006"),
	)

	key := m.Key
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout())
	defer cancel()
	if err := m.Client().SendText(sendCtx, m.ChatID, body, &key, mentions); err != nil {
		slog.Warn("tag broadcast failed", "session_id", s.ID, "chat_id", m.ChatID, "error", err)
		s.reply(ctx, m, "Error tagging members.")
	}
}

// requestCustomTagMessage stores the addressee list in the wizard and asks
// the sender for the broadcast text.
func (s *Session) requestCustomTagMessage(ctx context.Context, m *Message) {
	participants, err := s.tagParticipants(ctx, m)
	if err != nil {
		s.reply(ctx, m, "Tagging only works in groups.")
		return
	}

	s.wizard.Set(m.Sender, WizardState{
		Tag:          TagCustomMessage,
		Participants: participants,
	})

	prompt := transport.ButtonPrompt{
		Title:  "Custom tag message",
		Text:   fmt.Sprintf("Members: %d\n\nSend your message now.\nUse {count} for member count, {time} and {date} for the current time and date.", len(participants)),
		Footer: "Mentions are added automatically",
		Buttons: []transport.Button{
			{ID: "btn_tag_default", Text: "Use default"},
			{ID: "btn_tag_cancel", Text: "Cancel"},
		},
	}
	if err := m.Client().SendButtons(ctx, m.ChatID, prompt); err != nil {
		slog.Warn("tag prompt failed", "session_id", s.ID, "error", err)
	}
}

// --- Contact export ---

func (s *Session) exportContacts(ctx context.Context, m *Message, scope string) {
	if !m.IsGroup {
		s.reply(ctx, m, "Contact export only works in groups.")
		return
	}

	participants, err := m.Client().GroupParticipants(ctx, m.ChatID)
	if err != nil {
		slog.Warn("participant lookup failed", "session_id", s.ID, "chat_id", m.ChatID, "error", err)
		s.reply(ctx, m, "Error creating the contact file.")
		return
	}
	if scope == "admins" {
		admins := participants[:0:0]
		for _, p := range participants {
			if p.Admin {
				admins = append(admins, p)
			}
		}
		participants = admins
	}
	if len(participants) == 0 {
		s.reply(ctx, m, "No contacts found for that selection.")
		return
	}

	s.reply(ctx, m, fmt.Sprintf("Creating contact card for %d contacts...", len(participants)))

	doc := transport.Document{
		FileName: fmt.Sprintf("contacts_%s_%d.vcf", scope, time.Now().Unix()),
		MimeType: "text/vcard",
		Caption:  fmt.Sprintf("*Contact export*\n\nScope: %s\nContacts: %d", scope, len(participants)),
		Data:     []byte(buildVCard(participants)),
	}
	key := m.Key
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout())
	defer cancel()
	if err := m.Client().SendDocument(sendCtx, m.ChatID, doc, &key); err != nil {
		slog.Warn("contact export failed", "session_id", s.ID, "error", err)
		s.reply(ctx, m, "Error creating the contact file.")
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// buildVCard renders a VERSION:3.0 vCard block per participant.
func buildVCard(participants []transport.Participant) string {
	var sb strings.Builder
	for _, p := range participants {
		number, _, _ := strings.Cut(p.ID, "@")
		name := p.Name
		if name == "" {
			name = "User_" + number
		}
		fmt.Fprintf(&sb, "BEGIN:VCARD\nVERSION:3.0\nN:%s;;;;\nFN:%s\nTEL;TYPE=CELL:%s\nEND:VCARD\n\n", name, name, number)
	}
	return sb.String()
}

// --- Privacy settings ---

// privacyValues maps each setting to its offered values and labels.
var privacyValues = map[string][]transport.Button{
	"lastseen": privacyValueButtons("lastseen"),
	"profile":  privacyValueButtons("profile"),
	"status":   privacyValueButtons("status"),
	"groupadd": privacyValueButtons("groupadd"),
	"disappear": {
		{ID: "btn_priv_set_disappear_0", Text: "Off"},
		{ID: "btn_priv_set_disappear_86400", Text: "24 hours"},
		{ID: "btn_priv_set_disappear_604800", Text: "7 days"},
	},
}

func privacyValueButtons(setting string) []transport.Button {
	return []transport.Button{
		{ID: "btn_priv_set_" + setting + "_all", Text: "Everyone"},
		{ID: "btn_priv_set_" + setting + "_contacts", Text: "Contacts"},
		{ID: "btn_priv_set_" + setting + "_none", Text: "Nobody"},
	}
}

func (s *Session) showPrivacyOptions(ctx context.Context, m *Message, setting string) {
	buttons, ok := privacyValues[setting]
	if !ok {
		s.unknownButton(ctx, m, setting)
		return
	}

	// A typed value works too, for clients that cannot render buttons.
	s.wizard.Set(m.Sender, WizardState{Tag: TagPrivacyValue, Setting: setting})

	prompt := transport.ButtonPrompt{
		Title:   titleCase(setting) + " privacy",
		Text:    "Select a privacy level, or type one (all / contacts / none):",
		Buttons: append(append([]transport.Button{}, buttons...), transport.Button{ID: "btn_priv_back", Text: "Back"}),
	}
	if err := m.Client().SendButtons(ctx, m.ChatID, prompt); err != nil {
		slog.Warn("privacy options prompt failed", "session_id", s.ID, "error", err)
	}
}

// applyPrivacy mutates one account privacy setting. Owner-only; the result
// is always reported back into the conversation.
func (s *Session) applyPrivacy(ctx context.Context, m *Message, setting, value string) {
	if !s.cfg.IsOwner(m.Sender) {
		s.reply(ctx, m, "This action is owner-only.")
		return
	}

	if err := m.Client().UpdatePrivacy(ctx, setting, value); err != nil {
		slog.Warn("privacy update failed",
			"session_id", s.ID,
			"setting", setting,
			"error", err,
		)
		s.reply(ctx, m, fmt.Sprintf("Failed to update %s privacy. Please try again.", setting))
		return
	}

	prompt := transport.ButtonPrompt{
		Title: "Privacy updated",
		Text:  fmt.Sprintf("Setting: %s\nValue: %s", setting, value),
		Buttons: []transport.Button{
			{ID: "btn_priv_more", Text: "More settings"},
			{ID: "btn_priv_done", Text: "Done"},
		},
	}
	if err := m.Client().SendButtons(ctx, m.ChatID, prompt); err != nil {
		slog.Debug("privacy confirmation failed", "session_id", s.ID, "error", err)
	}
}

// reply sends a quoted reply, logging (not surfacing) failures.
func (s *Session) reply(ctx context.Context, m *Message, text string) {
	if err := m.Reply(ctx, text); err != nil {
		slog.Debug("reply failed", "session_id", s.ID, "chat_id", m.ChatID, "error", err)
	}
}
