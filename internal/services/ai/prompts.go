package ai

import (
	"fmt"
	"sort"
	"strings"
)

// Промпты на английском: модель получает выгрузку в CSV и отвечает отчётом на английском

// Оси сравнения для групп кампаний
const (
	FocusYoY = "yoy"
	FocusMoM = "mom"
)

// PromptOptions - параметры системного промпта
type PromptOptions struct {
	DisplayName     string
	ComparisonFocus map[string]string // группа -> yoy|mom
	DefaultFocus    string
	ChangeThreshold float64 // в процентах
}

// systemPromptTemplate: %[1]s - имя продукта, %[2]s - правила фокуса, %[3]s - порог
const systemPromptTemplate = `%[1]s is a marketing consultant that analyzes monthly marketing data provided in CSV format and generates structured insights in a fixed format. It follows a data-driven approach, identifying trends, key performance indicators (KPIs) and actionable recommendations.

### Data Structure:
The CSV contains the columns Campaign Group, Channel, Impressions, Clicks, CTR, Sessions, Revenue and Month-over-Month (MoM) and Year-over-Year (YoY) percentage changes for these KPIs and for media spend.
- **Media spend dollar amounts are not provided and must never be reported as absolute values in the output.**
- **MoM and YoY media spend percentage changes are included and should be analyzed.**
- **A change in media spend is likely to impact impressions and clicks, which should be taken into account.**
- The row whose Campaign Group is 'Total' holds the overall totals. Rows whose Channel is 'Subtotal' hold the totals of their campaign group.

### Insight Format:
1. **Executive Summary (Overall):**
   - One paragraph summarizing the good and bad performance across all campaign groups and channels.
   - Uses the 'Total' row for overall performance.
   - Considers marketing strategy, channel mix and real-world marketing knowledge.

2. **Campaign Group Insights (one section per campaign group):**
   - Named after the campaign group.
   - Starts with a high-level summary paragraph focused on the group's 'Subtotal' row.
%[2]s
   - Mentions only performance changes larger than %[3]s%% in either direction, naming the channels driving them.
   - Recognizes the relationship between media spend shifts and impressions/clicks.

3. **Channel Breakdown (under each Campaign Group section):**
   - Lists every channel of the campaign group.
   - For each channel gives exactly two pros (what went well) and two cons (what could be improved) as bullet points.

### Additional Notes:
- %[1]s strictly follows this hierarchy and structure.
- The overall Executive Summary and each Campaign Group summary are paragraphs, not bullet points.
- Never invent numbers or facts that are not present in the supplied data. If data is missing, ask the user for clarification instead of assuming.
- The tone is professional, concise and strategic.
- Insights are based on quantitative evidence from the data.`

// InitialPromptTemplate - первый запрос: полная выгрузка за месяц
const InitialPromptTemplate = "Here is the CSV data for %s:\n\n%s\n\nPlease generate the structured insights as instructed."

// FollowupPromptTemplate - уточняющий вопрос: превью выгрузки и текст вопроса
const FollowupPromptTemplate = `For reference, these are the first %d rows of the CSV data for %s:

%s
Answer the following follow-up question using only this data and the previous analysis:

%s`

// AsyncAnalysisMarker - реплика пользователя в истории асинхронного режима:
// системная инструкция хранится на стороне ассистента и не повторяется
const AsyncAnalysisMarker = "[Monthly dataset for %s submitted for analysis]"

// BuildSystemPrompt собирает системный промпт с правилами фокуса по группам
func BuildSystemPrompt(opts PromptOptions) string {
	name := opts.DisplayName
	if name == "" {
		name = "Kimbell Analysis"
	}
	threshold := opts.ChangeThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return fmt.Sprintf(systemPromptTemplate, name, focusRules(opts), formatThreshold(threshold))
}

// focusRules - строки правил в стабильном порядке групп
func focusRules(opts PromptOptions) string {
	groups := make([]string, 0, len(opts.ComparisonFocus))
	for g := range opts.ComparisonFocus {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var lines []string
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("   - If the campaign group is '%s', focuses on %s performance.", g, focusLabel(opts.ComparisonFocus[g])))
	}
	lines = append(lines, fmt.Sprintf("   - For all other campaign groups, focuses on %s performance.", focusLabel(opts.DefaultFocus)))
	return strings.Join(lines, "\n")
}

func focusLabel(focus string) string {
	if strings.EqualFold(focus, FocusYoY) {
		return "YoY"
	}
	return "MoM"
}

func formatThreshold(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// InitialPrompt - запрос первичного анализа
func InitialPrompt(monthKey, csv string) string {
	return fmt.Sprintf(InitialPromptTemplate, monthKey, csv)
}

// FollowupPrompt - запрос уточняющего вопроса
func FollowupPrompt(monthKey, previewCSV string, previewRows int, question string) string {
	return fmt.Sprintf(FollowupPromptTemplate, previewRows, monthKey, previewCSV, strings.TrimSpace(question))
}

// AsyncMarker - заглушка реплики пользователя для асинхронного режима
func AsyncMarker(monthKey string) string {
	return fmt.Sprintf(AsyncAnalysisMarker, monthKey)
}
