package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/hireloop/courier/internal/models"
)

// QueueStatser reports queue item counts by status
type QueueStatser interface {
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// Collector periodically refreshes queue gauges from the database
type Collector struct {
	queue    QueueStatser
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewCollector(queue QueueStatser, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "metrics-collector"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the collection loop
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(ctx)
			}
		}
	}()
}

// Stop halts the collection loop
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect(ctx context.Context) {
	m := Global()
	if m == nil {
		return
	}

	statsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := c.queue.Stats(statsCtx)
	if err != nil {
		c.logger.Warn("failed to collect queue stats", "error", err)
		return
	}

	m.QueuePending.Set(float64(stats.Pending))
	m.QueueDue.Set(float64(stats.Due))
	m.QueueSending.Set(float64(stats.Sending))
	m.QueueFailed.Set(float64(stats.Failed))
}
