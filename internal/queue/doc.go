// Package queue реализует приоритетную очередь tasks поверх
// сетевого backing store.
//
// # Обзор
//
// Queue хранит tasks в пяти списках — по одному на уровень приоритета.
// Dequeue сканирует уровни от CRITICAL к LOW и забирает первый
// найденный task; внутри уровня порядок FIFO.
//
// Backing store подключается через интерфейс Lists:
//
//	type Lists interface {
//	    Push(ctx context.Context, p domain.Priority, data []byte) error
//	    TryPop(ctx context.Context, p domain.Priority) ([]byte, bool, error)
//	    Len(ctx context.Context, p domain.Priority) (int, error)
//	    Close() error
//	}
//
// Реализации:
//   - MemoryLists — in-process списки (тесты, single-node режим)
//   - repo.QueueRepo — таблица в PostgreSQL (FOR UPDATE SKIP LOCKED)
//   - mq.QueueBackend — по одной очереди RabbitMQ на приоритет
//
// # Доступность
//
// После FailureThreshold подряд неудачных обращений к store очередь
// считается недоступной: Enqueue возвращает false, Dequeue — ErrUnavailable.
// Раз в ProbeInterval пропускается пробное обращение; первый успех
// возвращает очередь в рабочее состояние.
//
// # Ограничения
//
// Приоритет строгий: при постоянном потоке CRITICAL tasks уровень LOW
// может не обслуживаться сколь угодно долго.
package queue
