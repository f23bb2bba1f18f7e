package analysis

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/metrics"
	"github.com/user/marketing-insights-api/internal/models"
	"github.com/user/marketing-insights-api/internal/services/ai"
	"github.com/user/marketing-insights-api/internal/services/charts"
	"github.com/user/marketing-insights-api/internal/services/export"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
)

// Datasets - снимки выгрузок по месяцам
type Datasets interface {
	Get(ctx context.Context, monthKey string) (*snapshot.Dataset, error)
}

// Inference - вызовы модели в sync и async режимах
type Inference interface {
	Mode() string
	SystemPrompt() string
	Complete(ctx context.Context, meta ai.CallMeta, messages []ai.Message) (string, error)
	SubmitRun(ctx context.Context, meta ai.CallMeta, threadID, content string) (ai.RunHandle, string, error)
}

// Options - параметры контроллера
type Options struct {
	Months        []string
	DisplayName   string
	PreviewRows   int
	DefaultFormat string
}

// Controller - единая точка оркестрации анализа в сессии
type Controller struct {
	datasets  Datasets
	inference Inference
	exporters export.Registry
	opts      Options
	now       func() time.Time
}

// NewController создаёт контроллер
func NewController(datasets Datasets, inference Inference, exporters export.Registry, opts Options) *Controller {
	if opts.DisplayName == "" {
		opts.DisplayName = "Kimbell Analysis"
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 10
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = export.FormatDocx
	}
	return &Controller{
		datasets:  datasets,
		inference: inference,
		exporters: exporters,
		opts:      opts,
		now:       time.Now,
	}
}

// Result - итог действия над сессией
type Result struct {
	MonthKey string `json:"month"`
	Text     string `json:"text"`
	Reused   bool   `json:"reused,omitempty"`
	State    State  `json:"state"`
}

// Mode возвращает режим вызова модели
func (c *Controller) Mode() string {
	return c.inference.Mode()
}

// Months возвращает допустимые месяцы
func (c *Controller) Months() []string {
	return append([]string(nil), c.opts.Months...)
}

// ValidMonth проверяет месяц по перечню
func (c *Controller) ValidMonth(monthKey string) bool {
	for _, m := range c.opts.Months {
		if m == monthKey {
			return true
		}
	}
	return false
}

// State возвращает представление сессии для клиента
func (c *Controller) State(s *Session) State {
	return s.Snapshot(c.inference.Mode())
}

// RunInitialAnalysis выполняет первичный анализ месяца. Повторный вызов до сброса
// возвращает уже полученный результат без обращения к модели.
func (c *Controller) RunInitialAnalysis(ctx context.Context, s *Session, monthKey string) (*Result, error) {
	monthKey = strings.TrimSpace(monthKey)
	if !c.ValidMonth(monthKey) {
		return nil, ErrInvalidMonth
	}

	s.mu.Lock()
	if s.analysisOutput != nil {
		res := &Result{MonthKey: s.monthKey, Text: *s.analysisOutput, Reused: true}
		s.mu.Unlock()
		res.State = c.State(s)
		metrics.SessionActions.WithLabelValues("initial", "reused").Inc()
		return res, nil
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	t := s.begin(ctx)
	cached := s.dataset
	s.mu.Unlock()

	text, turns, handle, dataset, err := c.runInitial(t.ctx, s.ID, monthKey, cached)

	s.mu.Lock()
	if !s.finish(t) {
		s.mu.Unlock()
		log.Printf("[Session] %s: результат анализа отброшен после сброса", s.ID)
		metrics.SessionActions.WithLabelValues("initial", "discarded").Inc()
		return nil, ErrSessionReset
	}
	if dataset != nil {
		s.dataset = dataset
	}
	if err != nil {
		s.mu.Unlock()
		metrics.SessionActions.WithLabelValues("initial", "error").Inc()
		return nil, err
	}

	s.conv.Reset()
	for _, turn := range turns {
		_ = s.conv.AppendTurn(turn.Role, turn.Content)
	}
	s.analysisOutput = &text
	s.monthKey = monthKey
	s.runHandle = handle
	s.mu.Unlock()

	metrics.SessionActions.WithLabelValues("initial", "success").Inc()
	log.Printf("[Session] %s: анализ за %s готов", s.ID, monthKey)
	return &Result{MonthKey: monthKey, Text: text, State: c.State(s)}, nil
}

// runInitial выполняет запросы без блокировки сессии
func (c *Controller) runInitial(ctx context.Context, sessionID, monthKey string, cached *snapshot.Dataset) (string, []models.ConversationTurn, *ai.RunHandle, *snapshot.Dataset, error) {
	dataset := cached
	if dataset == nil || dataset.MonthKey != monthKey {
		var err error
		dataset, err = c.datasets.Get(ctx, monthKey)
		if err != nil {
			return "", nil, nil, nil, err
		}
	}

	prompt := ai.InitialPrompt(monthKey, dataset.CSV())
	meta := ai.CallMeta{Op: ai.OpInitial, MonthKey: monthKey, SessionID: sessionID}

	if c.inference.Mode() == config.ModeAsync {
		handle, text, err := c.inference.SubmitRun(ctx, meta, "", prompt)
		if err != nil {
			return "", nil, nil, dataset, err
		}
		turns := []models.ConversationTurn{
			{Role: models.RoleUser, Content: ai.AsyncMarker(monthKey)},
			{Role: models.RoleAssistant, Content: text},
		}
		return text, turns, &handle, dataset, nil
	}

	system := c.inference.SystemPrompt()
	text, err := c.inference.Complete(ctx, meta, []ai.Message{
		{Role: string(models.RoleSystem), Content: system},
		{Role: string(models.RoleUser), Content: prompt},
	})
	if err != nil {
		return "", nil, nil, dataset, err
	}
	turns := []models.ConversationTurn{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: prompt},
		{Role: models.RoleAssistant, Content: text},
	}
	return text, turns, nil, dataset, nil
}

// AskFollowup задаёт уточняющий вопрос. Счётчик растёт только при полученном ответе.
// monthKey опционален; если задан, должен совпадать с анализируемым месяцем.
func (c *Controller) AskFollowup(ctx context.Context, s *Session, question, monthKey string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	async := c.inference.Mode() == config.ModeAsync

	s.mu.Lock()
	if s.analysisOutput == nil {
		s.mu.Unlock()
		return nil, ErrNoAnalysis
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if !s.conv.CanAskFollowup() {
		s.mu.Unlock()
		metrics.SessionActions.WithLabelValues("followup", "quota").Inc()
		return nil, ErrQuotaExceeded
	}
	if monthKey = strings.TrimSpace(monthKey); monthKey != "" && monthKey != s.monthKey {
		s.mu.Unlock()
		return nil, ErrMonthMismatch
	}
	if async && s.runHandle == nil {
		s.mu.Unlock()
		return nil, ErrRunHandleLost
	}

	month := s.monthKey
	prompt := c.followupPrompt(month, s.dataset, question)
	history := s.conv.History()
	var threadID string
	if s.runHandle != nil {
		threadID = s.runHandle.ThreadID
	}
	t := s.begin(ctx)
	s.mu.Unlock()

	meta := ai.CallMeta{Op: ai.OpFollowup, MonthKey: month, SessionID: s.ID}
	var (
		answer string
		handle ai.RunHandle
		err    error
	)
	if async {
		handle, answer, err = c.inference.SubmitRun(t.ctx, meta, threadID, prompt)
	} else {
		messages := make([]ai.Message, 0, len(history)+1)
		for _, turn := range history {
			messages = append(messages, ai.Message{Role: string(turn.Role), Content: turn.Content})
		}
		messages = append(messages, ai.Message{Role: string(models.RoleUser), Content: prompt})
		answer, err = c.inference.Complete(t.ctx, meta, messages)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finish(t) {
		metrics.SessionActions.WithLabelValues("followup", "discarded").Inc()
		return nil, ErrSessionReset
	}
	if err != nil {
		if async && threadUnsettled(err) {
			// Тред в неопределённом состоянии: дальнейшие вопросы только после сброса
			s.runHandle = nil
		}
		metrics.SessionActions.WithLabelValues("followup", "error").Inc()
		return nil, err
	}
	if err := s.conv.RecordFollowup(question, answer); err != nil {
		return nil, err
	}
	if async {
		s.runHandle = &ai.RunHandle{ThreadID: handle.ThreadID, RunID: handle.RunID}
	}

	metrics.SessionActions.WithLabelValues("followup", "success").Inc()
	log.Printf("[Session] %s: ответ на вопрос %d/%d", s.ID, s.conv.FollowupCount(), MaxFollowups)

	state := s.snapshotLocked(c.inference.Mode())
	return &Result{MonthKey: month, Text: answer, State: state}, nil
}

// followupPrompt встраивает превью выгрузки и текст вопроса
func (c *Controller) followupPrompt(month string, dataset *snapshot.Dataset, question string) string {
	if dataset == nil {
		return question
	}
	n := c.opts.PreviewRows
	if rows := len(dataset.DataRows()); n > rows {
		n = rows
	}
	return ai.FollowupPrompt(month, dataset.PreviewCSV(n), n, question)
}

// threadUnsettled - сообщение отправлено в тред, но ответа нет
func threadUnsettled(err error) bool {
	var threadErr *ai.ThreadError
	return errors.As(err, &threadErr)
}

// Reset очищает сессию и отменяет выполняющийся запрос
func (c *Controller) Reset(s *Session) State {
	s.Reset()
	metrics.SessionActions.WithLabelValues("reset", "success").Inc()
	log.Printf("[Session] %s: сброс", s.ID)
	return c.State(s)
}

// Transcript - готовый документ
type Transcript struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportTranscript выгружает историю в документ выбранного формата
func (c *Controller) ExportTranscript(s *Session, format string) (*Transcript, error) {
	if format == "" {
		format = c.opts.DefaultFormat
	}
	exporter, ok := c.exporters.Get(format)
	if !ok {
		return nil, ErrUnknownFormat
	}

	s.mu.Lock()
	if s.analysisOutput == nil {
		s.mu.Unlock()
		return nil, ErrNoAnalysis
	}
	month := s.monthKey
	history := s.conv.History()
	s.mu.Unlock()

	blocks := make([]export.Block, 0, len(history))
	for _, turn := range history {
		blocks = append(blocks, export.Block{Speaker: c.speakerLabel(turn.Role), Text: turn.Content})
	}

	data, err := exporter.Export(export.Title(month), blocks)
	if err != nil {
		metrics.Exports.WithLabelValues(exporter.Format(), "error").Inc()
		var exportErr *export.ExportError
		if !errors.As(err, &exportErr) {
			err = &export.ExportError{Format: exporter.Format(), Err: err}
		}
		return nil, err
	}

	metrics.Exports.WithLabelValues(exporter.Format(), "success").Inc()
	return &Transcript{
		Filename:    export.Filename(month, c.now(), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        data,
	}, nil
}

func (c *Controller) speakerLabel(role models.Role) string {
	switch role {
	case models.RoleUser:
		return "User"
	case models.RoleAssistant:
		return c.opts.DisplayName
	}
	return "System"
}

// Chart строит данные графика метрики за месяц
func (c *Controller) Chart(ctx context.Context, monthKey, metric string) (*charts.Chart, error) {
	if !c.ValidMonth(monthKey) {
		return nil, ErrInvalidMonth
	}
	if metric == "" {
		metric = charts.Metrics[0]
	}
	if !charts.ValidMetric(strings.ToLower(strings.TrimSpace(metric))) {
		return nil, ErrInvalidMetric
	}
	dataset, err := c.datasets.Get(ctx, monthKey)
	if err != nil {
		return nil, err
	}
	return charts.Series(dataset, metric)
}
