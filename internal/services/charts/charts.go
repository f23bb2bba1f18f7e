// Package charts - данные графиков по метрике и выгрузка в XLSX с диаграммой
package charts

import (
	"fmt"
	"strings"

	"github.com/user/marketing-insights-api/internal/models"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
	"github.com/xuri/excelize/v2"
)

// Metrics - метрики, доступные для графиков
var Metrics = []string{"impressions", "clicks", "sessions", "revenue"}

// UnknownMetricError - метрика не поддерживается
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("метрика %q не поддерживается", e.Metric)
}

// Point - значение метрики для канала
type Point struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// Group - точки одной группы кампаний
type Group struct {
	CampaignGroup string  `json:"campaign_group"`
	Points        []Point `json:"points"`
}

// Chart - данные графика: метрика по каналам внутри групп
type Chart struct {
	MonthKey string  `json:"month"`
	Metric   string  `json:"metric"`
	Groups   []Group `json:"groups"`
}

// ValidMetric проверяет метрику
func ValidMetric(metric string) bool {
	for _, m := range Metrics {
		if m == metric {
			return true
		}
	}
	return false
}

// label - название метрики с заглавной буквы
func label(metric string) string {
	if metric == "" {
		return metric
	}
	return strings.ToUpper(metric[:1]) + metric[1:]
}

func metricValue(r models.MetricRow, metric string) float64 {
	switch metric {
	case "impressions":
		return r.Impressions
	case "clicks":
		return r.Clicks
	case "sessions":
		return r.Sessions
	case "revenue":
		return r.Revenue
	}
	return 0
}

// Series строит график по строкам данных (без итогов)
func Series(d *snapshot.Dataset, metric string) (*Chart, error) {
	metric = strings.ToLower(strings.TrimSpace(metric))
	if !ValidMetric(metric) {
		return nil, &UnknownMetricError{Metric: metric}
	}

	chart := &Chart{MonthKey: d.MonthKey, Metric: metric}
	index := map[string]int{}
	for _, r := range d.DataRows() {
		i, ok := index[r.CampaignGroup]
		if !ok {
			i = len(chart.Groups)
			index[r.CampaignGroup] = i
			chart.Groups = append(chart.Groups, Group{CampaignGroup: r.CampaignGroup})
		}
		chart.Groups[i].Points = append(chart.Groups[i].Points, Point{Channel: r.Channel, Value: metricValue(r, metric)})
	}
	return chart, nil
}

// RenderXLSX выгружает график в книгу: лист данных и гистограмма по каналам
func RenderXLSX(chart *Chart) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Data"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("ошибка создания листа: %w", err)
	}

	title := label(chart.Metric) + " by channel – " + chart.MonthKey
	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{"Campaign Group", "Channel", label(chart.Metric)}); err != nil {
		return nil, fmt.Errorf("ошибка записи заголовка: %w", err)
	}

	row := 2
	for _, g := range chart.Groups {
		for _, p := range g.Points {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(sheet, cell, &[]interface{}{g.CampaignGroup, p.Channel, p.Value}); err != nil {
				return nil, fmt.Errorf("ошибка записи строки: %w", err)
			}
			row++
		}
	}

	if row > 2 {
		last := row - 1
		err := f.AddChart(sheet, "E2", &excelize.Chart{
			Type: excelize.Col,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$C$1", sheet),
				Categories: fmt.Sprintf("%s!$A$2:$B$%d", sheet, last),
				Values:     fmt.Sprintf("%s!$C$2:$C$%d", sheet, last),
			}},
			Title: []excelize.RichTextRun{{Text: title}},
		})
		if err != nil {
			return nil, fmt.Errorf("ошибка построения диаграммы: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения книги: %w", err)
	}
	return buf.Bytes(), nil
}
