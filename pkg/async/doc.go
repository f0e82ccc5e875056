// Package async runs PosalPro background work: long-lived goroutines such as
// the route table watcher, and cron-scheduled maintenance such as database
// pool metrics and security event retention.
//
// Every task runs with panic recovery and logs its failure instead of
// returning it:
//
//	async.SafeGo(ctx, logger, "route table watcher", 0, func(ctx context.Context) error {
//		return registry.Watch(ctx, cfg.Access.RoutesFile, logger)
//	})
//
//	scheduler := async.NewScheduler(logger)
//	scheduler.AddTask("@every 30s", "db stats", 5*time.Second, func(ctx context.Context) error {
//		metrics.RecordDBStats(db.Stats())
//		return nil
//	})
//	scheduler.Start()
//	defer scheduler.Stop(shutdownCtx)
package async
