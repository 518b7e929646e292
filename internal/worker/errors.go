package worker

import "errors"

// Ошибки пула воркеров.
var (
	// ErrMissingComponent — в Config не передан обязательный компонент.
	ErrMissingComponent = errors.New("registry, queue, store and loop are required")

	// ErrInvalidConfig — противоречивая конфигурация масштабирования.
	ErrInvalidConfig = errors.New("invalid worker pool config")

	// ErrInvalidTask — task без ID или с недопустимым приоритетом.
	ErrInvalidTask = errors.New("invalid task")

	// ErrSubmitFailed — task не удалось поставить в очередь.
	ErrSubmitFailed = errors.New("submit failed")

	// ErrExecutionTimeout — попытка выполнения превысила таймаут.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrHandlerPanic — handler завершился паникой.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrHTTPRequest — HTTP-запрос встроенного handler'а завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
