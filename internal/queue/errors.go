package queue

import "errors"

// Ошибки очереди.
var (
	// ErrUnavailable — store недоступен после серии ошибок, dequeue приостановлен.
	ErrUnavailable = errors.New("queue store unavailable")

	// ErrStore — единичная ошибка обращения к store.
	ErrStore = errors.New("queue store failure")

	// ErrInvalidPriority — приоритет вне допустимого диапазона.
	ErrInvalidPriority = errors.New("invalid priority")
)
