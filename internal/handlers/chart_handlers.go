package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/services/charts"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetChart возвращает данные графика метрики за месяц
func (h *Handler) GetChart(c *gin.Context) {
	chart, err := h.controller.Chart(c.Request.Context(), c.Param("month"), c.Query("metric"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chart)
}

// ExportChartExcel отдаёт график в XLSX
func (h *Handler) ExportChartExcel(c *gin.Context) {
	chart, err := h.controller.Chart(c.Request.Context(), c.Param("month"), c.Query("metric"))
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := charts.RenderXLSX(chart)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("chart_%s_%s.xlsx", chart.MonthKey, chart.Metric)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
