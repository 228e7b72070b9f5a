package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// GroupCounter reports how many template groups are stored
type GroupCounter interface {
	CountGroups(ctx context.Context) (int64, error)
}

// Collector periodically refreshes gauges that are sampled rather than counted
type Collector struct {
	metrics     *Metrics
	groups      GroupCounter
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new gauge collector
func NewCollector(m *Metrics, groups GroupCounter, storagePath string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Collector{
		metrics:     m,
		groups:      groups,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.Collect(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect samples the current system and store state once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.groups != nil {
		if n, err := c.groups.CountGroups(ctx); err == nil {
			c.metrics.TemplateGroups.Set(float64(n))
		}
	}
}
