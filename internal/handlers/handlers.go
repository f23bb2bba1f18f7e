package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/middleware"
	"github.com/user/marketing-insights-api/internal/services/analysis"
	"github.com/user/marketing-insights-api/internal/services/charts"
	"github.com/user/marketing-insights-api/internal/services/email"
)

// Mailer - отправка выгрузок по почте
type Mailer interface {
	IsEnabled() bool
	SendTranscript(to, subject, htmlBody string, attachment email.Attachment) error
}

// Handler - обработчики API сессии анализа
type Handler struct {
	controller *analysis.Controller
	mailer     Mailer
}

// NewHandler создаёт новый обработчик. mailer может быть nil.
func NewHandler(controller *analysis.Controller, mailer Mailer) *Handler {
	return &Handler{
		controller: controller,
		mailer:     mailer,
	}
}

// GetOptions возвращает параметры интерфейса: месяцы, метрики, лимит вопросов
func (h *Handler) GetOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"months":        h.controller.Months(),
		"metrics":       charts.Metrics,
		"max_followups": analysis.MaxFollowups,
		"mode":          h.controller.Mode(),
		"email_enabled": h.mailer != nil && h.mailer.IsEnabled(),
	})
}

// GetSession возвращает состояние текущей сессии
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.controller.State(sess))
}

// RunAnalysis запускает первичный анализ месяца
func (h *Handler) RunAnalysis(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	var req struct {
		Month string `json:"month" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите месяц", "kind": "invalid_input"})
		return
	}

	res, err := h.controller.RunInitialAnalysis(c.Request.Context(), sess, req.Month)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AskFollowup задаёт уточняющий вопрос по текущему анализу
func (h *Handler) AskFollowup(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
		Month    string `json:"month"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
		return
	}

	res, err := h.controller.AskFollowup(c.Request.Context(), sess, req.Question, req.Month)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResetSession сбрасывает сессию
func (h *Handler) ResetSession(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.controller.Reset(sess))
}

// Health - проверка живости
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func session(c *gin.Context) (*analysis.Session, bool) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Сессия не найдена", "kind": "internal"})
		return nil, false
	}
	return sess, true
}
