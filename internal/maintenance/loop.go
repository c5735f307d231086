// Package maintenance runs periodic housekeeping: sweeping the pending
// conversion stores and pruning the audit log.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/registry"
)

type sweeper interface {
	SweepAll(ctx context.Context) []registry.SweepResult
}

type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Loop sweeps every store on a fixed interval.
type Loop struct {
	svc      sweeper
	interval time.Duration

	audit          pruner
	auditRetention time.Duration
	now            func() time.Time
}

// New creates a Loop. A non-positive interval disables it.
func New(svc sweeper, interval time.Duration) *Loop {
	return &Loop{svc: svc, interval: interval, now: time.Now}
}

// WithAudit makes every tick also drop audit events older than retention.
func (l *Loop) WithAudit(p pruner, retention time.Duration) *Loop {
	l.audit = p
	l.auditRetention = retention
	return l
}

// Run blocks until ctx is canceled.
func (l *Loop) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	if l.interval <= 0 {
		zlog.Logger.Info().Msg("periodic maintenance disabled")
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	zlog.Logger.Info().Dur("interval", l.interval).Msg("starting maintenance loop")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("maintenance loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one round of maintenance.
func (l *Loop) Tick(ctx context.Context) {
	evicted, skipped := 0, 0
	for _, res := range l.svc.SweepAll(ctx) {
		evicted += len(res.Evicted)
		skipped += res.Skipped
	}
	if evicted > 0 || skipped > 0 {
		zlog.Logger.Info().Int("evicted", evicted).Int("skipped", skipped).Msg("swept pending conversions")
	}

	if l.audit == nil || l.auditRetention <= 0 {
		return
	}

	n, err := l.audit.Prune(ctx, l.now().Add(-l.auditRetention))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to prune audit log")
		return
	}
	if n > 0 {
		zlog.Logger.Info().Int64("deleted", n).Msg("pruned audit log")
	}
}
