package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/venuegate/server/internal/venue/store"
)

// StatusPruner periodically deletes device status reports older than a
// configurable retention period. It runs as a background goroutine and
// is stopped via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type StatusPruner struct {
	store     store.StatusReportStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewStatusPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of report history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewStatusPruner creates a pruner but does not start it.
func NewStatusPruner(s store.StatusReportStore, cfg PrunerConfig, logger *slog.Logger) *StatusPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &StatusPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *StatusPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("status pruner disabled", slog.Int("retention_days", 0))
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Info("status pruner started",
		slog.Int("retention_days", int(p.retention.Hours()/24)),
		slog.Duration("interval", p.interval),
	)
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *StatusPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *StatusPruner) loop(ctx context.Context) {
	defer close(p.done)

	// Clean up any backlog from while the server was down.
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *StatusPruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.store.PruneStatusReports(ctx, cutoff)
	if err != nil {
		p.logger.Error("status prune failed", slog.Any("err", err))
		return
	}
	if deleted > 0 {
		p.logger.Info("status prune",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
}
