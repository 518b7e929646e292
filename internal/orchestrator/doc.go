// Package orchestrator собирает движок из компонентов и даёт
// вызывающей стороне единый API.
//
// Orchestrator отвечает за:
//   - Создание очереди, хранилища результатов, breaker'ов, loop manager'а и пула
//   - Запуск и остановку компонентов в порядке зависимостей
//   - Отправку tasks (SubmitTask, SubmitBatch, SubmitFunction)
//   - Получение результатов с таймаутом ожидания (GetResult, GetResults, StreamResults)
//   - Комбинаторы MapAsync, FilterAsync, ReduceAsync и ExecuteParallelWorkflow
//   - Агрегированные HealthCheck и Stats
//
// Таймаут ожидания (ErrWaitTimeout) ограничивает только вызывающую
// сторону: task продолжает выполняться. Ошибка выполнения task
// не возвращается как error, а видна в TaskResult.
package orchestrator
