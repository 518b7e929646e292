package loop

import "errors"

// Ошибки loop manager'а.
var (
	// ErrNotRunning — Manager не запущен или уже остановлен.
	ErrNotRunning = errors.New("loop manager is not running")

	// ErrGraceExceeded — единицы работы не завершились за grace period.
	ErrGraceExceeded = errors.New("grace period exceeded")

	// ErrPanic — единица работы завершилась паникой.
	ErrPanic = errors.New("panic in unit of work")
)
