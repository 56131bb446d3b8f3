package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/pkg/logger"
	"github.com/chatdesk/handoff-console/pkg/metrics"
)

// poller runs fn at a fixed wall-clock period until stopped. The first tick
// fires immediately. Failures are logged and the next tick proceeds as
// normal; there is no backoff.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startPoller launches the polling goroutine. Stop blocks until the goroutine
// has exited, so no tick of fn can begin after Stop returns.
func startPoller(ctx context.Context, name string, interval time.Duration, log *logger.Logger, fn func(context.Context) error) *poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &poller{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		tick := func() {
			start := time.Now()
			err := fn(ctx)
			elapsed := time.Since(start).Seconds()
			if err != nil && ctx.Err() == nil {
				log.Warn("poll failed",
					zap.String("poller", name),
					zap.Error(err))
				metrics.RecordPoll(name, "error", elapsed)
				return
			}
			if ctx.Err() == nil {
				metrics.RecordPoll(name, "ok", elapsed)
			}
		}

		tick()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return p
}

// Stop cancels the poller and waits for its goroutine to exit.
func (p *poller) Stop() {
	p.cancel()
	<-p.done
}
