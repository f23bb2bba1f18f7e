package analysis

import "github.com/user/marketing-insights-api/internal/models"

// MaxFollowups - лимит уточняющих вопросов на сессию
const MaxFollowups = 3

// Conversation - история реплик и счётчик уточняющих вопросов.
// Синхронизацию обеспечивает владеющая сессия.
type Conversation struct {
	history   []models.ConversationTurn
	followups int
}

// AppendTurn добавляет реплику в конец истории
func (c *Conversation) AppendTurn(role models.Role, content string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	c.history = append(c.history, models.ConversationTurn{Role: role, Content: content})
	return nil
}

// CanAskFollowup - остались ли уточняющие вопросы
func (c *Conversation) CanAskFollowup() bool {
	return c.followups < MaxFollowups
}

// RecordFollowup добавляет вопрос и ответ и увеличивает счётчик
func (c *Conversation) RecordFollowup(question, answer string) error {
	if !c.CanAskFollowup() {
		return ErrQuotaExceeded
	}
	c.history = append(c.history,
		models.ConversationTurn{Role: models.RoleUser, Content: question},
		models.ConversationTurn{Role: models.RoleAssistant, Content: answer},
	)
	c.followups++
	return nil
}

// Reset очищает историю и счётчик
func (c *Conversation) Reset() {
	c.history = nil
	c.followups = 0
}

// History возвращает копию истории
func (c *Conversation) History() []models.ConversationTurn {
	out := make([]models.ConversationTurn, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) FollowupCount() int {
	return c.followups
}

func (c *Conversation) FollowupsLeft() int {
	return MaxFollowups - c.followups
}
