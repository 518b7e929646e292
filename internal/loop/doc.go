// Package loop управляет всеми горутинами движка.
//
// Manager — один на процесс. Каждая единица работы (цикл воркера,
// scaler, задания executor'ов) запускается через Manager.Go и попадает
// в таблицу активных единиц; при Stop все они отменяются через context
// и получают ограниченное время (grace period) на завершение.
//
// Для блокирующей и CPU-нагруженной работы есть два ограниченных
// executor'а: RunInThread и RunInProcess. У них раздельные лимиты,
// поэтому CPU-работа не может занять слоты блокирующей и наоборот.
//
// # Жизненный цикл
//
//	m := loop.New(loop.Config{HandleSignals: true, Logger: logger})
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	m.OnShutdown(func(ctx context.Context) { publisher.Close() })
//	m.Go("ticker", func(ctx context.Context) error { ... })
//	<-m.Done()             // SIGINT/SIGTERM или явный Stop
//	m.Stop(context.Background())
//
// Stop идемпотентен; Start после Stop инициализирует Manager заново.
package loop
