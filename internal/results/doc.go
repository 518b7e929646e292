// Package results хранит исходы выполнения tasks.
//
// Store — keyed-хранилище TaskResult с TTL поверх интерфейса KV:
//   - Put — upsert по task_id; ErrFinal, если запись уже финальная,
//     ErrEncode, если результат не сериализуется
//   - StoreResult — Put с булевым исходом
//   - GetResult — nil, если записи нет или TTL истёк
//   - WaitForResults — ждёт финальных статусов не дольше timeout;
//     ids, не успевшие завершиться, просто отсутствуют в ответе
//   - Stream — ленивая последовательность результатов в порядке завершения
//
// Запрет перезаписи финального результата проверяет сам KV
// атомарно с записью, поэтому гонка Cancel и воркера не меняет
// финальный статус. Реализации KV:
//   - MemoryKV — in-process (тесты, single-node)
//   - repo.ResultRepo — PostgreSQL с колонкой expires_at
//
// Janitor периодически (cron "@every") удаляет просроченные записи.
// Функции из aggregate.go сворачивают набор успешных результатов
// для map/reduce-комбинаторов оркестратора.
package results
