package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrSchema — не удалось создать таблицы.
	ErrSchema = errors.New("ensure schema failed")

	// ErrInvalidPriority — приоритет вне допустимого диапазона.
	ErrInvalidPriority = errors.New("invalid priority")
)
