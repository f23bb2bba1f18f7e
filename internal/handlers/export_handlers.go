package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/services/email"
	"github.com/user/marketing-insights-api/internal/services/export"
)

// ExportTranscript отдаёт выгрузку переписки файлом
func (h *Handler) ExportTranscript(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	doc, err := h.controller.ExportTranscript(sess, c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

// EmailTranscript отправляет выгрузку переписки на почту
func (h *Handler) EmailTranscript(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	if h.mailer == nil || !h.mailer.IsEnabled() {
		respondError(c, email.ErrNotConfigured)
		return
	}

	var req struct {
		To     string `json:"to" binding:"required"`
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите адрес получателя", "kind": "invalid_input"})
		return
	}

	doc, err := h.controller.ExportTranscript(sess, req.Format)
	if err != nil {
		respondError(c, err)
		return
	}

	month := h.controller.State(sess).MonthKey
	attachment := email.Attachment{
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Data:        doc.Data,
	}
	if err := h.mailer.SendTranscript(req.To, export.Title(month), email.TranscriptBody(month), attachment); err != nil {
		log.Printf("[Email] Ошибка отправки выгрузки: %v", err)
		if status, kind := classify(err); status != http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": "email_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Выгрузка отправлена", "filename": doc.Filename})
}
