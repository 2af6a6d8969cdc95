// Package stats keeps running counters over processed batches for the
// admin status endpoint.
package stats

import (
	"sync"
	"time"

	"github.com/raideye/raideye/internal/clash"
)

// Snapshot is a point-in-time view of the collector counters.
type Snapshot struct {
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Batches        int64     `json:"batches"`
	BatchesOK      int64     `json:"batches_ok"`
	ImagesTotal    int64     `json:"images_total"`
	ImagesOK       int64     `json:"images_ok"`
	ImagesFailed   int64     `json:"images_failed"`
	DryRunBatches  int64     `json:"dry_run_batches"`
	LastBatchAt    time.Time `json:"last_batch_at,omitempty"`
	LastBatchType  string    `json:"last_batch_type,omitempty"`
	LastBatchTotal int64     `json:"last_batch_total"`
}

// Collector implements clash.Recorder.
type Collector struct {
	mu        sync.Mutex
	startedAt time.Time
	snapshot  Snapshot
	now       func() time.Time
}

// NewCollector starts the uptime clock at the current time.
func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		startedAt: now,
		snapshot:  Snapshot{StartedAt: now},
		now:       time.Now,
	}
}

// RecordBatch folds one batch result into the counters. Empty batches
// (no images located) are not counted.
func (c *Collector) RecordBatch(result clash.BatchResult) {
	if result.Total == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot.Batches++
	if result.AllSucceeded {
		c.snapshot.BatchesOK++
	}
	if result.DryRun {
		c.snapshot.DryRunBatches++
	}
	c.snapshot.ImagesTotal += int64(result.Total)
	c.snapshot.ImagesOK += int64(result.Succeeded)
	c.snapshot.ImagesFailed += int64(result.Total - result.Succeeded)
	c.snapshot.LastBatchAt = c.now()
	c.snapshot.LastBatchType = result.Type.String()
	c.snapshot.LastBatchTotal = int64(result.Total)
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.snapshot
	out.UptimeSeconds = int64(c.now().Sub(c.startedAt) / time.Second)
	return out
}
