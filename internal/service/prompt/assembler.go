// Package prompt converts a conversation history into the ordered message
// list sent to the chat model.
package prompt

import (
	"github.com/cloudwego/eino/schema"

	"thinkchat/internal/models"
)

// Assembler prepends a fixed system instruction to a history.
//
// Turn content is passed through as a literal string. Nothing is
// interpolated, so text such as "{name}" reaches the model verbatim.
type Assembler struct {
	system string
}

func NewAssembler(systemPrompt string) *Assembler {
	return &Assembler{system: systemPrompt}
}

// Assemble returns len(history)+1 messages: the system instruction followed
// by each turn in order.
func (a *Assembler) Assemble(history []models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: a.system,
	})
	for _, turn := range history {
		messages = append(messages, &schema.Message{
			Role:    roleOf(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}

func roleOf(role models.Role) schema.RoleType {
	switch role {
	case models.RoleAssistant:
		return schema.Assistant
	case models.RoleSystem:
		return schema.System
	default:
		return schema.User
	}
}
