package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/services/ai"
)

// UsageReporter - статистика журнала использования модели
type UsageReporter interface {
	GetUsageStats(days int) (*ai.UsageStats, error)
}

// AIHandler - обработчики для AI эндпоинтов
type AIHandler struct {
	usage UsageReporter
}

// NewAIHandler создаёт новый обработчик AI
func NewAIHandler(usage UsageReporter) *AIHandler {
	return &AIHandler{usage: usage}
}

// GetAIUsage возвращает статистику использования AI
func (h *AIHandler) GetAIUsage(c *gin.Context) {
	// Период в днях (по умолчанию 30)
	days := 30
	if daysStr := c.Query("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 365 {
			days = d
		}
	}

	stats, err := h.usage.GetUsageStats(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "internal"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
