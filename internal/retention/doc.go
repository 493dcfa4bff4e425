// Package retention очищает историю runs по расписанию.
//
// Pruner по cron-выражению удаляет завершённые runs старше MaxAge.
// Незавершённые runs (RUNNING) не удаляются.
//
// Использование:
//
//	pruner, err := retention.New(retention.Config{
//	    Store:    runRepo,
//	    Schedule: "0 3 * * *",
//	    MaxAge:   30 * 24 * time.Hour,
//	    Logger:   logger,
//	})
//	pruner.Start(ctx)
//	defer pruner.Stop()
//
// Несколько реплик API могут запускать Pruner одновременно:
// RunRepo.DeleteFinishedBefore берёт pg_try_advisory_xact_lock,
// и удаление выполняет только одна из них.
package retention
