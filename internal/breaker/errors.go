package breaker

import "errors"

// Ошибки circuit breaker'а.
var (
	// ErrCircuitOpen — circuit открыт, вызов отклонён без обращения к зависимости.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrTooManyCalls — в HALF_OPEN уже выполняется максимум пробных вызовов.
	ErrTooManyCalls = errors.New("too many half-open calls")
)
