package ai

import (
	"context"
	"fmt"
	"log"
	"time"
)

// StatusReader - минимум API, нужный для ожидания запуска
type StatusReader interface {
	GetRunStatus(ctx context.Context, threadID, runID string) (RunStatus, error)
	ListMessages(ctx context.Context, threadID string) ([]string, error)
}

// PollerConfig - параметры ожидания
type PollerConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// Poller ждёт завершения запуска ассистента, опрашивая статус с фиксированным интервалом
type Poller struct {
	api    StatusReader
	cfg    PollerConfig
	wait   func(ctx context.Context, d time.Duration) error
	onPoll func(status RunStatus)
}

// NewPoller создаёт поллер; нулевые параметры заменяются значениями по умолчанию
func NewPoller(api StatusReader, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 600
	}
	return &Poller{api: api, cfg: cfg, wait: sleepCtx}
}

// Await опрашивает статус до терминального и возвращает текст последнего сообщения треда.
// Отмена ctx прекращает опрос немедленно.
func (p *Poller) Await(ctx context.Context, threadID, runID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		status, err := p.api.GetRunStatus(ctx, threadID, runID)
		if err != nil {
			if ctxErr := timeoutOrCancel(ctx); ctxErr != nil {
				return "", ctxErr
			}
			return "", &InferenceError{Op: "run_status", Err: err}
		}
		if p.onPoll != nil {
			p.onPoll(status)
		}

		switch status {
		case RunCompleted:
			return p.latestMessage(ctx, threadID)
		case RunFailed, RunCancelled, RunExpired, RunRequiresAction:
			log.Printf("[AI] Запуск %s завершился статусом %s (попытка %d)", runID, status, attempt)
			return "", &JobError{Status: status}
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.wait(ctx, p.cfg.Interval); err != nil {
			return "", timeoutOrCancel(ctx)
		}
	}

	log.Printf("[AI] Запуск %s: исчерпано %d попыток опроса", runID, p.cfg.MaxAttempts)
	return "", ErrJobTimeout
}

func (p *Poller) latestMessage(ctx context.Context, threadID string) (string, error) {
	messages, err := p.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", &InferenceError{Op: "list_messages", Err: err}
	}
	if len(messages) == 0 {
		return "", &InferenceError{Op: "list_messages", Err: fmt.Errorf("тред %s пуст", threadID)}
	}
	return messages[0], nil
}

// timeoutOrCancel различает истечение таймаута и отмену вызывающим
func timeoutOrCancel(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ErrJobTimeout
	case context.Canceled:
		return context.Canceled
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
