package domain

import (
	"fmt"
	"strings"
)

// Priority — класс приоритета task.
//
// Очередь извлекает tasks строго по убыванию приоритета,
// внутри одного приоритета — FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// PriorityLevels — количество уровней приоритета.
const PriorityLevels = 5

// Priorities возвращает все уровни от высшего к низшему (порядок сканирования очереди).
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// String возвращает имя уровня.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Valid проверяет, что приоритет входит в допустимый диапазон.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority парсит имя уровня (регистр не важен).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT":
		return PriorityUrgent, nil
	case "CRITICAL":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// RoutingKey возвращает имя уровня в нижнем регистре
// (суффикс очереди и routing key в брокере).
func (p Priority) RoutingKey() string {
	return strings.ToLower(p.String())
}
