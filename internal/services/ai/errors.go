package ai

import (
	"errors"
	"fmt"
)

// ErrJobTimeout - запуск ассистента не завершился за отведённое время
var ErrJobTimeout = errors.New("превышено время ожидания анализа")

// ErrRateLimited - исчерпан часовой лимит запросов к модели
var ErrRateLimited = errors.New("превышен лимит запросов к AI")

// InferenceError - сбой вызова модели (сеть, авторизация, лимиты)
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("ошибка AI (%s): %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// JobError - запуск ассистента завершился неуспешным статусом
type JobError struct {
	Status RunStatus
}

func (e *JobError) Error() string {
	return fmt.Sprintf("анализ завершился со статусом %s", e.Status)
}

// ThreadError - сбой после отправки сообщения в тред: вопрос остался без ответа,
// и тред нельзя использовать дальше
type ThreadError struct {
	ThreadID string
	Err      error
}

func (e *ThreadError) Error() string {
	return fmt.Sprintf("тред %s: %v", e.ThreadID, e.Err)
}

func (e *ThreadError) Unwrap() error {
	return e.Err
}
