package usecase

import "vui/internal/domain"

// History is the append-only conversation record for one session.
type History struct {
	messages []domain.Message
}

func (h *History) Append(msg domain.Message) {
	if len(msg.Content) == 0 {
		return
	}
	h.messages = append(h.messages, msg)
}

func (h *History) AppendText(role domain.Role, text string) {
	h.Append(domain.TextMessage(role, text))
}

// Messages returns a copy safe to hand to another goroutine.
func (h *History) Messages() []domain.Message {
	out := make([]domain.Message, len(h.messages))
	for i, msg := range h.messages {
		out[i] = domain.Message{Role: msg.Role, Content: append([]domain.ContentBlock(nil), msg.Content...)}
	}
	return out
}

func (h *History) Len() int {
	return len(h.messages)
}
