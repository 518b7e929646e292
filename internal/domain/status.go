package domain

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	                  ↘ CANCELLED
//
// PENDING может сразу перейти в CANCELLED (task отброшен до выполнения).
// Финальные статусы больше не меняются.
type TaskStatus string

const (
	// TaskStatusPending — task в очереди, ожидает выполнения.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — task выполняется воркером.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted — task успешно завершён.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — task завершился с ошибкой (после всех retry).
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — task отменён (shutdown или явная отмена).
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition проверяет, допустим ли переход s → to.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case "":
		return true
	case TaskStatusPending:
		return to == TaskStatusRunning || to == TaskStatusCancelled || to == TaskStatusFailed
	case TaskStatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// CircuitState — состояние circuit breaker'а.
//
//	CLOSED → OPEN → HALF_OPEN → CLOSED
//	                          ↘ OPEN
type CircuitState string

const (
	// CircuitClosed — вызовы проходят, ошибки считаются.
	CircuitClosed CircuitState = "CLOSED"

	// CircuitOpen — вызовы отклоняются без обращения к зависимости.
	CircuitOpen CircuitState = "OPEN"

	// CircuitHalfOpen — пропускается ограниченное число пробных вызовов.
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Value возвращает числовое значение для метрик.
func (s CircuitState) Value() float64 {
	switch s {
	case CircuitOpen:
		return 1
	case CircuitHalfOpen:
		return 2
	default:
		return 0
	}
}

// HealthStatus — агрегированное состояние компонента.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// rank упорядочивает статусы от лучшего к худшему.
func (h HealthStatus) rank() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// Worst возвращает худший из статусов.
func Worst(statuses ...HealthStatus) HealthStatus {
	worst := HealthHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}
