// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - backend.go    — QueueBackend: списки приоритетов очереди tasks поверх RabbitMQ
//   - publisher.go  — публикация событий о завершении tasks
//   - consumer.go   — потребление событий (conveyor events)
//
// Exchanges:
//   - conveyor.tasks  — tasks, по одной очереди на приоритет (conveyor.tasks.<level>)
//   - conveyor.events — события, task.completed → conveyor.events.completed
package mq
