package usecase

import (
	"strings"
	"time"

	"aichat/internal/domain"
)

// conversationNameLen is the number of runes of the first message kept as a
// conversation name.
const conversationNameLen = 50

// ConversationName derives a conversation name from the first message text.
// Whitespace is collapsed and long text is cut at conversationNameLen runes.
// Text without words gets a dated default.
func ConversationName(text string, now time.Time) string {
	name := strings.Join(strings.Fields(text), " ")
	if name == "" {
		return "New Conversation " + now.Format("1/2/2006")
	}
	if r := []rune(name); len(r) > conversationNameLen {
		return strings.TrimSpace(string(r[:conversationNameLen])) + "..."
	}
	return name
}

// BuildHistory assembles the messages sent to the provider: the system
// prompt, at most limit previous messages, then current.
//
// Previous messages are sent as text only. System messages and messages
// without text are left out. A placeholder still marked loading here belongs
// to a reply that was stopped, so whatever text it received is kept.
func BuildHistory(systemPrompt string, previous []domain.Message, limit int, current domain.ChatMessage) []domain.ChatMessage {
	var prior []domain.ChatMessage
	for _, m := range previous {
		if m.Role == domain.RoleSystem || strings.TrimSpace(m.Text()) == "" {
			continue
		}
		prior = append(prior, domain.ChatMessage{Role: m.Role, Text: m.Text()})
	}
	if limit <= 0 {
		prior = nil
	} else if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}

	out := make([]domain.ChatMessage, 0, len(prior)+2)
	if p := strings.TrimSpace(systemPrompt); p != "" {
		out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Text: p})
	}
	out = append(out, prior...)
	return append(out, current)
}
