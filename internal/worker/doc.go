// Package worker выполняет tasks из очереди пулом воркеров
// с автомасштабированием.
//
// # Обзор
//
// Pool — набор воркеров, каждый из которых является единицей работы
// loop.Manager. Воркер в цикле:
//
//  1. Извлекает task из queue.Queue (Dequeue с таймаутом)
//  2. Пропускает task, если его результат уже финальный (отменён до старта)
//  3. Сохраняет RUNNING результат
//  4. Выполняет handler из registry под таймаутом task
//  5. Повторяет после ошибки выполнения до task.MaxRetries раз
//  6. Сохраняет COMPLETED / FAILED / CANCELLED и публикует task.completed
//
// Ошибка одного task фиксируется в его результате и не влияет
// ни на воркер, ни на пул.
//
// # Создание
//
//	pool, err := worker.New(worker.Config{
//	    Registry: reg,
//	    Queue:    q,
//	    Store:    store,
//	    Loop:     loopMgr,
//	    Breakers: breakers,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(ctx)
//
// # Масштабирование
//
// Scaler каждые ScaleInterval вычисляет load = глубина очереди / число воркеров:
//   - load > ScaleUpThreshold — добавляет ceil(depth/ScaleUpThreshold) - count воркеров, не больше MaxWorkers
//   - load < ScaleDownThreshold — выводит одного воркера (предпочтительно свободного), не меньше MinWorkers
//
// Между событиями масштабирования проходит не меньше ScaleCooldown.
// Выводимый воркер доделывает текущий task.
//
// # Retry
//
// Retry выполняется в процессе, а не через повторную постановку в очередь.
// delay = RetryDelay * 2^(attempt-1), но не больше MaxRetryDelay.
//
// Повторяются только ошибки выполнения и паники. Таймаут, отмена,
// открытый circuit breaker и неизвестный handler сразу дают FAILED
// (или CANCELLED).
//
// # Circuit breaker
//
// Task с Metadata["dependency"] выполняется через breaker.Manager
// с этим именем. Пока circuit открыт, handler не вызывается,
// а результат получает ErrorKind "circuit_open".
//
// # Встроенные handler'ы
//
// RegisterBuiltins добавляет в registry:
//   - http.request — HTTP-запрос (method, url, headers, body, timeout_sec)
//   - delay — ожидание duration_sec секунд
//   - echo — возвращает входные данные
package worker
