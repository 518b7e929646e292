// Package breaker изолирует сбои внешних зависимостей.
//
// CircuitBreaker — конечный автомат CLOSED → OPEN → HALF_OPEN → {CLOSED|OPEN}
// вокруг произвольного вызова. Manager хранит по одному breaker'у на
// каждую зависимость (по имени) и отдаёт агрегированное здоровье.
//
//	m := breaker.NewManager(breaker.ManagerConfig{Logger: logger})
//	v, err := m.Call(ctx, "price-feed", func(ctx context.Context) (any, error) {
//	    return fetchPrice(ctx)
//	})
//	if errors.Is(err, breaker.ErrCircuitOpen) {
//	    // зависимость известна как недоступная, вызов пропущен
//	}
package breaker
