package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWaitTimeout — результат не стал финальным за отведённое время.
	// Сам task при этом не отменяется и продолжает выполняться.
	ErrWaitTimeout = errors.New("wait for result timed out")

	// ErrTaskNotFound — по ID нет ни task, ни результата.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskFailed — один из tasks комбинатора завершился не COMPLETED.
	ErrTaskFailed = errors.New("task failed")

	// ErrInvalidTask — task не прошёл валидацию.
	ErrInvalidTask = errors.New("invalid task")

	// ErrEmptyBatch — пустой список tasks.
	ErrEmptyBatch = errors.New("empty batch")
)
