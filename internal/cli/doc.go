// Package cli реализует инструмент командной строки движка.
//
// # Обзор
//
// CLI — клиентская утилита для операционного HTTP API (internal/api).
// Типы ответов дублируются здесь: CLI не импортирует internal/api.
// Исключение — команда events, которая читает события
// task.completed напрямую из RabbitMQ через internal/mq.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент. Инкапсулирует запросы, разбор конвертов
// {"data": ...} / {"error": {...}} и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	health, err := client.Health(ctx)
//
// ## Output
//
// Форматирование вывода:
//   - Таблицы и пары ключ-значение (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr,
// поэтому работает pipe: conveyor stats --json | jq .pool
//
// ## Commands
//
//   - health                 состояние компонентов (код выхода 1 при unhealthy)
//   - stats                  счётчики, пул, очередь, breaker'ы
//   - result TASK_ID         результат task (--wait)
//   - task submit HANDLER    отправка task (--arg, --kwarg, --priority, ...)
//   - task cancel TASK_ID    отмена task
//   - events                 поток событий завершения из RabbitMQ
//
// Команды создаются фабричными функциями (NewHealthCmd и т.д.),
// принимающими clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
