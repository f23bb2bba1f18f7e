package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/services/ai"
	"github.com/user/marketing-insights-api/internal/services/analysis"
	"github.com/user/marketing-insights-api/internal/services/charts"
	"github.com/user/marketing-insights-api/internal/services/email"
	"github.com/user/marketing-insights-api/internal/services/export"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
)

// classify сопоставляет ошибку с HTTP-статусом и видом для клиента
func classify(err error) (int, string) {
	var (
		datasetErr *snapshot.InvalidDatasetError
		sourceErr  *snapshot.SourceError
		jobErr     *ai.JobError
		inferErr   *ai.InferenceError
		exportErr  *export.ExportError
		metricErr  *charts.UnknownMetricError
	)

	switch {
	case errors.Is(err, analysis.ErrInvalidMonth),
		errors.Is(err, analysis.ErrMonthMismatch),
		errors.Is(err, analysis.ErrEmptyQuestion),
		errors.Is(err, analysis.ErrInvalidMetric),
		errors.Is(err, analysis.ErrUnknownFormat),
		errors.Is(err, email.ErrInvalidAddress),
		errors.As(err, &metricErr):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, snapshot.ErrDataUnavailable):
		return http.StatusNotFound, "data_unavailable"
	case errors.As(err, &datasetErr):
		return http.StatusUnprocessableEntity, "invalid_dataset"
	case errors.As(err, &sourceErr):
		return http.StatusBadGateway, "warehouse_unavailable"
	case errors.Is(err, analysis.ErrNoAnalysis):
		return http.StatusConflict, "no_analysis"
	case errors.Is(err, analysis.ErrAlreadyRunning):
		return http.StatusConflict, "busy"
	case errors.Is(err, analysis.ErrSessionReset):
		return http.StatusConflict, "session_reset"
	case errors.Is(err, analysis.ErrRunHandleLost):
		return http.StatusConflict, "run_handle_lost"
	case errors.Is(err, analysis.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, ai.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ai.ErrJobTimeout):
		return http.StatusGatewayTimeout, "job_timeout"
	case errors.As(err, &jobErr):
		return http.StatusBadGateway, "job_failed"
	case errors.As(err, &inferErr):
		return http.StatusBadGateway, "inference_failed"
	case errors.Is(err, email.ErrNotConfigured):
		return http.StatusServiceUnavailable, "email_disabled"
	case errors.As(err, &exportErr):
		return http.StatusInternalServerError, "export_failed"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

// respondError пишет ошибку в формате {"error", "kind"}
func respondError(c *gin.Context, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
