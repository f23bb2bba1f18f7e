package charts

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marketing-insights-api/internal/models"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
	"github.com/xuri/excelize/v2"
)

func testDataset() *snapshot.Dataset {
	rows := []models.MetricRow{
		{MonthString: "2025-03", CampaignGroup: "Membership", Channel: "Search", Impressions: 1000, Clicks: 100, Sessions: 80, Revenue: 500},
		{MonthString: "2025-03", CampaignGroup: "Membership", Channel: "Social", Impressions: 3000, Clicks: 60, Sessions: 40, Revenue: 100},
		{MonthString: "2025-03", CampaignGroup: "Admissions", Channel: "Display", Impressions: 2000, Clicks: 20, Sessions: 10, Revenue: 50},
		{MonthString: "2025-03", CampaignGroup: "Total", Impressions: 6000, Clicks: 180, Sessions: 130, Revenue: 650},
	}
	return snapshot.NewDataset("2025-03", nil, rows, time.Now())
}

func TestSeries_ExcludesAggregates(t *testing.T) {
	chart, err := Series(testDataset(), "Clicks")
	require.NoError(t, err)

	assert.Equal(t, "clicks", chart.Metric)
	require.Len(t, chart.Groups, 2)
	assert.Equal(t, "Admissions", chart.Groups[0].CampaignGroup)
	assert.Equal(t, []Point{{Channel: "Display", Value: 20}}, chart.Groups[0].Points)
	assert.Equal(t, []Point{{Channel: "Search", Value: 100}, {Channel: "Social", Value: 60}}, chart.Groups[1].Points)
}

func TestSeries_UnknownMetric(t *testing.T) {
	_, err := Series(testDataset(), "spend")

	var unknown *UnknownMetricError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "spend", unknown.Metric)
}

func TestRenderXLSX(t *testing.T) {
	chart, err := Series(testDataset(), "revenue")
	require.NoError(t, err)

	data, err := RenderXLSX(chart)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Data")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Campaign Group", "Channel", "Revenue"}, rows[0])
	assert.Equal(t, []string{"Admissions", "Display", "50"}, rows[1])
}
