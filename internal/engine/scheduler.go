package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "calwatch/internal/log"
)

// cronLogger routes cron's own diagnostics through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// Start runs an initial sync, then schedules Sync on refreshSpec and Tick
// on triggerSpec. Jobs never overlap themselves. The scheduler stops when
// ctx is canceled; the returned channel closes once running jobs finished.
func (e *Engine) Start(ctx context.Context, refreshSpec, triggerSpec string) (<-chan struct{}, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(refreshSpec, func() {
		if err := e.Sync(ctx); err != nil {
			appLog.Error("scheduled sync finished with errors", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", refreshSpec, err)
	}
	if _, err := c.AddFunc(triggerSpec, func() { e.Tick(ctx) }); err != nil {
		return nil, fmt.Errorf("trigger schedule %q: %w", triggerSpec, err)
	}

	if err := e.Sync(ctx); err != nil {
		appLog.Error("initial sync finished with errors", err)
	}

	c.Start()
	appLog.Info("scheduler started", "refresh", refreshSpec, "trigger_interval", triggerSpec)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("scheduler stopped")
		close(done)
	}()
	return done, nil
}
