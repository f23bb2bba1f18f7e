package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/metrics"
	"github.com/user/marketing-insights-api/internal/models"
	"golang.org/x/time/rate"
)

// Типы запросов для журнала использования
const (
	OpInitial  = "initial"
	OpFollowup = "followup"
)

// UsageStore - журнал использования модели
type UsageStore interface {
	CreateAIUsageLog(entry *models.AIUsageLog) error
	GetAIUsageLogs(days int) ([]models.AIUsageLog, error)
}

// CallMeta - контекст вызова для журнала
type CallMeta struct {
	Op        string
	MonthKey  string
	SessionID string
}

// RunHandle - тред и запуск ассистента
type RunHandle struct {
	ThreadID string
	RunID    string
}

// Options - параметры сервиса
type Options struct {
	Mode              string
	Temperature       float64
	InitialMaxTokens  int
	FollowupMaxTokens int
	RateLimitPerHour  int
	Poll              PollerConfig
	Prompt            PromptOptions
}

// Service - сервис AI анализа: лимиты, журнал, sync/async вызовы
type Service struct {
	opts         Options
	completer    Completer
	assistant    AssistantAPI
	poller       *Poller
	usage        UsageStore
	rateLimiter  *rate.Limiter
	systemPrompt string
}

// NewService создаёт сервис. Для sync нужен completer, для async - assistant.
// usage может быть nil: тогда журнал в БД не ведётся.
func NewService(opts Options, completer Completer, assistant AssistantAPI, usage UsageStore) *Service {
	if opts.Mode == "" {
		opts.Mode = config.ModeSync
	}
	if opts.InitialMaxTokens <= 0 {
		opts.InitialMaxTokens = 1500
	}
	if opts.FollowupMaxTokens <= 0 {
		opts.FollowupMaxTokens = 600
	}

	s := &Service{
		opts:         opts,
		completer:    completer,
		assistant:    assistant,
		usage:        usage,
		systemPrompt: BuildSystemPrompt(opts.Prompt),
	}
	s.updateRateLimiter(opts.RateLimitPerHour)

	if assistant != nil {
		s.poller = NewPoller(assistant, opts.Poll)
		s.poller.onPoll = func(status RunStatus) {
			metrics.RunPolls.WithLabelValues(string(status)).Inc()
		}
	}
	return s
}

// Close освобождает клиента модели (соединение Gemini)
func (s *Service) Close() error {
	closer, ok := s.completer.(io.Closer)
	if !ok {
		return nil
	}
	if err := closer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия клиента %s: %w", s.completer.Name(), err)
	}
	return nil
}

// NewServiceFromConfig создаёт клиентов по конфигурации
func NewServiceFromConfig(ctx context.Context, cfg config.AIConfig, analysis config.AnalysisConfig, usage UsageStore) (*Service, error) {
	opts := Options{
		Mode:              cfg.Mode,
		Temperature:       cfg.Temperature,
		InitialMaxTokens:  cfg.InitialMaxTokens,
		FollowupMaxTokens: cfg.FollowupMaxTokens,
		RateLimitPerHour:  cfg.RateLimitPerHour,
		Poll: PollerConfig{
			Interval:    cfg.PollInterval,
			Timeout:     cfg.PollTimeout,
			MaxAttempts: cfg.MaxPollAttempts,
		},
		Prompt: PromptOptions{
			DisplayName:     analysis.DisplayName,
			ComparisonFocus: analysis.ComparisonFocus,
			DefaultFocus:    analysis.DefaultFocus,
			ChangeThreshold: analysis.ChangeThreshold,
		},
	}
	if !cfg.LogUsageToDatabase {
		usage = nil
	}

	if cfg.Mode == config.ModeAsync {
		assistant := NewAssistantClient(cfg.APIKey, cfg.BaseURL, cfg.AssistantID, cfg.RequestTimeout)
		log.Printf("[AI] Асинхронный режим, ассистент %s", cfg.AssistantID)
		return NewService(opts, nil, assistant, usage), nil
	}

	var completer Completer
	switch cfg.Provider {
	case config.ProviderGemini:
		gemini, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		completer = gemini
	default:
		if cfg.APIKey == "" {
			log.Println("[AI] API ключ не задан, запросы к модели будут отклоняться")
		}
		completer = NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.RequestTimeout)
	}
	return NewService(opts, completer, nil, usage), nil
}

// updateRateLimiter настраивает лимитер запросов
func (s *Service) updateRateLimiter(requestsPerHour int) {
	if requestsPerHour <= 0 {
		requestsPerHour = 60
	}
	interval := time.Hour / time.Duration(requestsPerHour)
	// Burst = requestsPerHour чтобы сразу можно было делать запросы
	s.rateLimiter = rate.NewLimiter(rate.Every(interval), requestsPerHour)
	log.Printf("[AI] Rate limiter: %d запросов/час", requestsPerHour)
}

// Mode возвращает режим вызова модели
func (s *Service) Mode() string {
	return s.opts.Mode
}

// SystemPrompt возвращает системный промпт sync режима
func (s *Service) SystemPrompt() string {
	return s.systemPrompt
}

// Temperature возвращает температуру сэмплирования
func (s *Service) Temperature() float64 {
	return s.opts.Temperature
}

// MaxTokens возвращает лимит длины ответа для операции
func (s *Service) MaxTokens(op string) int {
	if op == OpFollowup {
		return s.opts.FollowupMaxTokens
	}
	return s.opts.InitialMaxTokens
}

// Complete - синхронный вызов без состояния: вся история передаётся целиком
func (s *Service) Complete(ctx context.Context, meta CallMeta, messages []Message) (string, error) {
	if s.completer == nil {
		return "", &InferenceError{Op: meta.Op, Err: fmt.Errorf("синхронный провайдер не настроен")}
	}
	if !s.rateLimiter.Allow() {
		s.record(meta, nil, ErrRateLimited, 0)
		return "", &InferenceError{Op: meta.Op, Err: ErrRateLimited}
	}

	start := time.Now()
	result, err := s.completer.Complete(ctx, CompletionRequest{
		Messages:    messages,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.MaxTokens(meta.Op),
	})
	s.record(meta, result, err, time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &InferenceError{Op: meta.Op, Err: err}
	}

	log.Printf("[AI] %s %s: ответ получен (%d токенов)", meta.Op, meta.MonthKey, result.TotalTokens)
	return result.Response, nil
}

// SubmitRun публикует сообщение в тред (новый, если threadID пуст), запускает
// ассистента и ждёт завершения запуска. Хэндл возвращается и при ошибке ожидания.
func (s *Service) SubmitRun(ctx context.Context, meta CallMeta, threadID, content string) (RunHandle, string, error) {
	handle := RunHandle{ThreadID: threadID}
	if s.assistant == nil {
		return handle, "", &InferenceError{Op: meta.Op, Err: fmt.Errorf("ассистент не настроен")}
	}
	if !s.rateLimiter.Allow() {
		s.record(meta, nil, ErrRateLimited, 0)
		return handle, "", &InferenceError{Op: meta.Op, Err: ErrRateLimited}
	}

	start := time.Now()
	text, err := s.submitRun(ctx, meta, &handle, content)
	var result *GenerateResult
	if err == nil {
		result = &GenerateResult{Response: text}
	}
	s.record(meta, result, err, time.Since(start))
	return handle, text, err
}

func (s *Service) submitRun(ctx context.Context, meta CallMeta, handle *RunHandle, content string) (string, error) {
	if handle.ThreadID == "" {
		threadID, err := s.assistant.CreateThread(ctx)
		if err != nil {
			return "", wrapCallError("create_thread", err)
		}
		handle.ThreadID = threadID
	}

	if err := s.assistant.PostMessage(ctx, handle.ThreadID, string(models.RoleUser), content); err != nil {
		return "", wrapCallError("post_message", err)
	}

	// Сообщение уже в треде: любой дальнейший сбой оставляет тред без ответа
	runID, err := s.assistant.CreateRun(ctx, handle.ThreadID)
	if err != nil {
		return "", &ThreadError{ThreadID: handle.ThreadID, Err: wrapCallError("create_run", err)}
	}
	handle.RunID = runID
	log.Printf("[AI] %s %s: запуск %s создан, ожидание", meta.Op, meta.MonthKey, runID)

	text, err := s.poller.Await(ctx, handle.ThreadID, runID)
	if err != nil {
		return "", &ThreadError{ThreadID: handle.ThreadID, Err: err}
	}
	return text, nil
}

func wrapCallError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &InferenceError{Op: op, Err: err}
}

// record пишет метрики и журнал использования
func (s *Service) record(meta CallMeta, result *GenerateResult, err error, elapsed time.Duration) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case errors.Is(err, ErrRateLimited):
		status = "rate_limited"
	default:
		status = "error"
	}

	metrics.InferenceRequests.WithLabelValues(meta.Op, s.opts.Mode, status).Inc()
	if elapsed > 0 {
		metrics.InferenceDuration.WithLabelValues(meta.Op, s.opts.Mode).Observe(elapsed.Seconds())
	}

	var input, output, total int
	if result != nil {
		input, output, total = result.InputTokens, result.OutputTokens, result.TotalTokens
		metrics.InferenceTokens.WithLabelValues("input").Add(float64(input))
		metrics.InferenceTokens.WithLabelValues("output").Add(float64(output))
	}

	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
		log.Printf("[AI] %s %s: ошибка: %v", meta.Op, meta.MonthKey, err)
	}
	s.logUsage(meta, input, output, total, err == nil, errorMsg)
}

// logUsage логирует использование AI
func (s *Service) logUsage(meta CallMeta, input, output, total int, success bool, errorMsg string) {
	if s.usage == nil {
		return
	}
	usageLog := &models.AIUsageLog{
		RequestType:  meta.Op,
		Mode:         s.opts.Mode,
		Provider:     s.providerName(),
		MonthKey:     meta.MonthKey,
		SessionID:    meta.SessionID,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  total,
		Success:      success,
		ErrorMessage: errorMsg,
	}
	if err := s.usage.CreateAIUsageLog(usageLog); err != nil {
		log.Printf("[AI] Ошибка сохранения лога: %v", err)
	}
}

func (s *Service) providerName() string {
	if s.opts.Mode == config.ModeAsync {
		return "assistant"
	}
	if s.completer != nil {
		return s.completer.Name()
	}
	return ""
}

// GetUsageStats возвращает статистику использования
func (s *Service) GetUsageStats(days int) (*UsageStats, error) {
	if s.usage == nil {
		return &UsageStats{Days: days}, nil
	}
	logs, err := s.usage.GetAIUsageLogs(days)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{Days: days, ByRequestType: map[string]int{}}
	for _, l := range logs {
		stats.TotalRequests++
		stats.TotalTokens += l.TotalTokens
		stats.InputTokens += l.InputTokens
		stats.OutputTokens += l.OutputTokens
		stats.ByRequestType[l.RequestType]++
		if l.Success {
			stats.SuccessfulRequests++
		} else {
			stats.FailedRequests++
		}
	}

	return stats, nil
}

// UsageStats - статистика использования AI
type UsageStats struct {
	Days               int            `json:"days"`
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	FailedRequests     int            `json:"failed_requests"`
	TotalTokens        int            `json:"total_tokens"`
	InputTokens        int            `json:"input_tokens"`
	OutputTokens       int            `json:"output_tokens"`
	ByRequestType      map[string]int `json:"by_request_type,omitempty"`
}
