package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует маршруты API. sessionMW привязывает запрос к сессии.
func RegisterRoutes(r gin.IRouter, h *Handler, aiHandler *AIHandler, sessionMW gin.HandlerFunc) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.GET("/options", h.GetOptions)

		// Сессия анализа (cookie)
		sess := api.Group("/session")
		sess.Use(sessionMW)
		{
			sess.GET("", h.GetSession)
			sess.POST("/analysis", h.RunAnalysis)
			sess.POST("/followups", h.AskFollowup)
			sess.POST("/reset", h.ResetSession)
			sess.GET("/export", h.ExportTranscript)
			sess.POST("/export/email", h.EmailTranscript)
		}

		// Графики не зависят от сессии
		api.GET("/charts/:month", h.GetChart)
		api.GET("/charts/:month/xlsx", h.ExportChartExcel)

		api.GET("/ai/usage", aiHandler.GetAIUsage)
	}
}
