package snapshot

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/user/marketing-insights-api/internal/models"
)

// ErrDataUnavailable - хранилище не вернуло строк за месяц
var ErrDataUnavailable = errors.New("данные за выбранный месяц недоступны")

// SourceError - хранилище недоступно или запрос к нему не выполнен
type SourceError struct {
	MonthKey string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("ошибка запроса выгрузки за %s: %v", e.MonthKey, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// InvalidDatasetError - в выгрузке нет обязательных колонок
type InvalidDatasetError struct {
	MonthKey string
	Missing  []string
}

func (e *InvalidDatasetError) Error() string {
	return fmt.Sprintf("выгрузка за %s не содержит колонок: %s", e.MonthKey, strings.Join(e.Missing, ", "))
}

// Колонки, без которых выгрузка не анализируется
var (
	identifyingColumns = []string{"campaign_group", "channel"}
	baseMetricColumns  = []string{"impressions", "clicks", "ctr", "sessions", "revenue", "spend"}
)

// RequiredColumns возвращает полный список обязательных колонок
func RequiredColumns() []string {
	cols := append([]string{}, identifyingColumns...)
	cols = append(cols, baseMetricColumns...)
	for _, m := range baseMetricColumns {
		cols = append(cols, m+"_mom_pct", m+"_yoy_pct")
	}
	return cols
}

// missingColumns сравнивает без учёта регистра
func missingColumns(columns []string) []string {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(strings.TrimSpace(c))] = true
	}
	var missing []string
	for _, c := range RequiredColumns() {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// csvRecord - строка текстового представления для модели; порядок полей задаёт порядок колонок
type csvRecord struct {
	CampaignGroup string `csv:"Campaign Group"`
	Channel       string `csv:"Channel"`
	Impressions   csvNum `csv:"Impressions"`
	Clicks        csvNum `csv:"Clicks"`
	CTR           csvNum `csv:"CTR"`
	Sessions      csvNum `csv:"Sessions"`
	Revenue       csvNum `csv:"Revenue"`

	ImpressionsMoM csvNum `csv:"Impressions MoM %"`
	ClicksMoM      csvNum `csv:"Clicks MoM %"`
	CTRMoM         csvNum `csv:"CTR MoM %"`
	SessionsMoM    csvNum `csv:"Sessions MoM %"`
	RevenueMoM     csvNum `csv:"Revenue MoM %"`
	SpendMoM       csvNum `csv:"Spend MoM %"`

	ImpressionsYoY csvNum `csv:"Impressions YoY %"`
	ClicksYoY      csvNum `csv:"Clicks YoY %"`
	CTRYoY         csvNum `csv:"CTR YoY %"`
	SessionsYoY    csvNum `csv:"Sessions YoY %"`
	RevenueYoY     csvNum `csv:"Revenue YoY %"`
	SpendYoY       csvNum `csv:"Spend YoY %"`
}

// csvNum выводится с округлением до сотых без хвостовых нулей
type csvNum float64

func (n csvNum) MarshalCSV() (string, error) {
	return strconv.FormatFloat(round2(float64(n)), 'f', -1, 64), nil
}

func newCSVRecord(r models.MetricRow) csvRecord {
	return csvRecord{
		CampaignGroup: r.CampaignGroup,
		Channel:       r.Channel,
		Impressions:   csvNum(r.Impressions),
		Clicks:        csvNum(r.Clicks),
		CTR:           csvNum(r.CTR),
		Sessions:      csvNum(r.Sessions),
		Revenue:       csvNum(r.Revenue),

		ImpressionsMoM: csvNum(r.ImpressionsMoM),
		ClicksMoM:      csvNum(r.ClicksMoM),
		CTRMoM:         csvNum(r.CTRMoM),
		SessionsMoM:    csvNum(r.SessionsMoM),
		RevenueMoM:     csvNum(r.RevenueMoM),
		SpendMoM:       csvNum(r.SpendMoM),

		ImpressionsYoY: csvNum(r.ImpressionsYoY),
		ClicksYoY:      csvNum(r.ClicksYoY),
		CTRYoY:         csvNum(r.CTRYoY),
		SessionsYoY:    csvNum(r.SessionsYoY),
		RevenueYoY:     csvNum(r.RevenueYoY),
		SpendYoY:       csvNum(r.SpendYoY),
	}
}

// Dataset - неизменяемый снимок выгрузки за месяц
type Dataset struct {
	MonthKey  string
	Columns   []string
	Rows      []models.MetricRow // упорядочены: группы, каналы, Subtotal, Total последним
	FetchedAt time.Time
	Derived   bool // агрегаты досчитаны локально
}

// NewDataset упорядочивает строки и достраивает недостающие агрегаты
func NewDataset(monthKey string, columns []string, rows []models.MetricRow, fetchedAt time.Time) *Dataset {
	withAggregates, derived := ensureAggregates(rows)
	return &Dataset{
		MonthKey:  monthKey,
		Columns:   columns,
		Rows:      orderRows(withAggregates),
		FetchedAt: fetchedAt,
		Derived:   derived,
	}
}

// DataRows возвращает строки без агрегатов
func (d *Dataset) DataRows() []models.MetricRow {
	out := make([]models.MetricRow, 0, len(d.Rows))
	for _, r := range d.Rows {
		if !r.IsAggregate() {
			out = append(out, r)
		}
	}
	return out
}

// Groups возвращает группы кампаний в порядке вывода
func (d *Dataset) Groups() []string {
	var groups []string
	seen := map[string]bool{}
	for _, r := range d.Rows {
		if r.IsTotal() || seen[r.CampaignGroup] {
			continue
		}
		seen[r.CampaignGroup] = true
		groups = append(groups, r.CampaignGroup)
	}
	return groups
}

// Total возвращает строку общего итога
func (d *Dataset) Total() (models.MetricRow, bool) {
	for _, r := range d.Rows {
		if r.IsTotal() {
			return r, true
		}
	}
	return models.MetricRow{}, false
}

// CSV - полная выгрузка с заголовком
// Абсолютные суммы расходов не выводятся: модель получает только их изменения
func (d *Dataset) CSV() string {
	return encodeCSV(d.Rows)
}

// PreviewCSV - заголовок и первые n строк данных, без Subtotal и Total
func (d *Dataset) PreviewCSV(n int) string {
	rows := d.DataRows()
	if n < 0 || n > len(rows) {
		n = len(rows)
	}
	return encodeCSV(rows[:n])
}

func encodeCSV(rows []models.MetricRow) string {
	records := make([]csvRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, newCSVRecord(r))
	}
	out, err := gocsv.MarshalString(&records)
	if err != nil {
		// csvRecord содержит только строки и csvNum, ошибка означает сбой записи в буфер
		log.Printf("[Snapshot] Ошибка сериализации CSV: %v", err)
		return ""
	}
	return out
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

// orderRows: группы и каналы по алфавиту, Subtotal в конце группы, Total в конце
func orderRows(rows []models.MetricRow) []models.MetricRow {
	out := append([]models.MetricRow(nil), rows...)
	rank := func(r models.MetricRow) int {
		switch {
		case r.IsTotal():
			return 2
		case r.IsSubtotal():
			return 1
		}
		return 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsTotal() != b.IsTotal() {
			return !a.IsTotal()
		}
		if a.CampaignGroup != b.CampaignGroup {
			return a.CampaignGroup < b.CampaignGroup
		}
		if rank(a) != rank(b) {
			return rank(a) < rank(b)
		}
		return a.Channel < b.Channel
	})
	return out
}

// ensureAggregates достраивает Subtotal по группам и Total, если хранилище их не вернуло
func ensureAggregates(rows []models.MetricRow) ([]models.MetricRow, bool) {
	out := append([]models.MetricRow(nil), rows...)
	derived := false

	hasSubtotal := map[string]bool{}
	hasTotal := false
	byGroup := map[string][]models.MetricRow{}
	var data []models.MetricRow
	var month string

	for _, r := range rows {
		if month == "" {
			month = r.MonthString
		}
		switch {
		case r.IsTotal():
			hasTotal = true
		case r.IsSubtotal():
			hasSubtotal[r.CampaignGroup] = true
		default:
			byGroup[r.CampaignGroup] = append(byGroup[r.CampaignGroup], r)
			data = append(data, r)
		}
	}

	if len(data) == 0 {
		return out, false
	}

	for group, groupRows := range byGroup {
		if hasSubtotal[group] {
			continue
		}
		sub := aggregate(groupRows)
		sub.MonthString = month
		sub.CampaignGroup = group
		sub.Channel = models.SubtotalChannel
		out = append(out, sub)
		derived = true
	}

	if !hasTotal {
		total := aggregate(data)
		total.MonthString = month
		total.CampaignGroup = models.TotalGroup
		out = append(out, total)
		derived = true
	}

	return out, derived
}

// periodSums - суммы аддитивных метрик текущего и предыдущего периода
type periodSums struct {
	impressions, clicks, sessions, revenue, spend float64
}

// aggregate суммирует строки; изменения в % пересчитываются через
// восстановленные значения предыдущего периода: prior = current / (1 + pct/100)
func aggregate(rows []models.MetricRow) models.MetricRow {
	var cur, mom, yoy periodSums
	for _, r := range rows {
		cur.impressions += r.Impressions
		cur.clicks += r.Clicks
		cur.sessions += r.Sessions
		cur.revenue += r.Revenue
		cur.spend += r.Spend

		mom.impressions += prior(r.Impressions, r.ImpressionsMoM)
		mom.clicks += prior(r.Clicks, r.ClicksMoM)
		mom.sessions += prior(r.Sessions, r.SessionsMoM)
		mom.revenue += prior(r.Revenue, r.RevenueMoM)
		mom.spend += prior(r.Spend, r.SpendMoM)

		yoy.impressions += prior(r.Impressions, r.ImpressionsYoY)
		yoy.clicks += prior(r.Clicks, r.ClicksYoY)
		yoy.sessions += prior(r.Sessions, r.SessionsYoY)
		yoy.revenue += prior(r.Revenue, r.RevenueYoY)
		yoy.spend += prior(r.Spend, r.SpendYoY)
	}

	ctr := ratio(cur.clicks, cur.impressions)
	return models.MetricRow{
		Impressions: cur.impressions,
		Clicks:      cur.clicks,
		CTR:         ctr,
		Sessions:    cur.sessions,
		Revenue:     cur.revenue,
		Spend:       cur.spend,

		ImpressionsMoM: pctChange(cur.impressions, mom.impressions),
		ClicksMoM:      pctChange(cur.clicks, mom.clicks),
		CTRMoM:         pctChange(ctr, ratio(mom.clicks, mom.impressions)),
		SessionsMoM:    pctChange(cur.sessions, mom.sessions),
		RevenueMoM:     pctChange(cur.revenue, mom.revenue),
		SpendMoM:       pctChange(cur.spend, mom.spend),

		ImpressionsYoY: pctChange(cur.impressions, yoy.impressions),
		ClicksYoY:      pctChange(cur.clicks, yoy.clicks),
		CTRYoY:         pctChange(ctr, ratio(yoy.clicks, yoy.impressions)),
		SessionsYoY:    pctChange(cur.sessions, yoy.sessions),
		RevenueYoY:     pctChange(cur.revenue, yoy.revenue),
		SpendYoY:       pctChange(cur.spend, yoy.spend),
	}
}

// prior восстанавливает значение прошлого периода; при -100% оно не определено
func prior(current, pct float64) float64 {
	if pct <= -100 {
		return 0
	}
	return current / (1 + pct/100)
}

func pctChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current/previous - 1) * 100
}

// ratio - CTR в процентах
func ratio(clicks, impressions float64) float64 {
	if impressions == 0 {
		return 0
	}
	return clicks / impressions * 100
}
