package analysis

import "errors"

var (
	// ErrQuotaExceeded - лимит уточняющих вопросов исчерпан
	ErrQuotaExceeded = errors.New("лимит уточняющих вопросов исчерпан")

	// ErrAlreadyRunning - в сессии уже выполняется действие
	ErrAlreadyRunning = errors.New("в сессии уже выполняется запрос")

	// ErrNoAnalysis - первичный анализ ещё не выполнен
	ErrNoAnalysis = errors.New("анализ ещё не выполнен")

	ErrInvalidMonth  = errors.New("недопустимый месяц")
	ErrMonthMismatch = errors.New("месяц не совпадает с анализируемым")
	ErrEmptyQuestion = errors.New("пустой вопрос")
	ErrInvalidRole   = errors.New("недопустимая роль реплики")
	ErrInvalidMetric = errors.New("недопустимая метрика")
	ErrUnknownFormat = errors.New("неизвестный формат выгрузки")

	// ErrSessionReset - сессия сброшена, пока запрос выполнялся; результат отброшен
	ErrSessionReset = errors.New("сессия была сброшена во время запроса")

	// ErrRunHandleLost - запуск ассистента завершился ошибкой, тред больше не используется
	ErrRunHandleLost = errors.New("тред ассистента недоступен, выполните сброс и повторите анализ")
)
