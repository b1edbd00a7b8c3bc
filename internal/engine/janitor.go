/*
Copyright 2025 The Courier Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/store"
)

const (
	janitorInitialDelay = 10 * time.Second
	janitorInterval     = time.Hour
	retentionWindow     = 30 * 24 * time.Hour
	rateBucketWindow    = time.Hour
	purgeChunkSize      = 1000
	purgeChunkPause     = 100 * time.Millisecond
)

// Janitor enforces retention. Events and terminal messages older than the
// retention window are purged in chunks so a large backlog never holds long
// row locks; stale rate-limit buckets are swept wholesale.
type Janitor struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewJanitor creates the retention sweeper.
func NewJanitor(s *store.Store, m *metrics.Metrics, logger *zap.Logger) *Janitor {
	return &Janitor{store: s, metrics: m, logger: logger, now: time.Now}
}

// Run sweeps once shortly after startup, then hourly, until ctx is
// cancelled. Sweep failures are logged and retried at the next tick; the
// janitor never takes the process down.
func (j *Janitor) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(janitorInitialDelay):
	}

	j.sweep(ctx)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	now := j.now()
	cutoff := now.Add(-retentionWindow)

	events, err := j.purgeChunked(ctx, func(c context.Context) (int64, error) {
		return j.store.DeleteEventsBefore(c, cutoff, purgeChunkSize)
	})
	if err != nil {
		j.logger.Error("event purge failed", zap.Error(err))
	} else if events > 0 {
		j.metrics.JanitorRowsPurged.WithLabelValues("events").Add(float64(events))
	}

	msgs, err := j.purgeChunked(ctx, func(c context.Context) (int64, error) {
		return j.store.DeleteTerminalMessagesBefore(c, cutoff, purgeChunkSize)
	})
	if err != nil {
		j.logger.Error("message purge failed", zap.Error(err))
	} else if msgs > 0 {
		j.metrics.JanitorRowsPurged.WithLabelValues("messages").Add(float64(msgs))
	}

	buckets, err := j.store.DeleteRateBucketsBefore(ctx, now.Add(-rateBucketWindow))
	if err != nil {
		j.logger.Error("rate bucket purge failed", zap.Error(err))
	} else if buckets > 0 {
		j.metrics.JanitorRowsPurged.WithLabelValues("rate_limit_tracking").Add(float64(buckets))
	}

	j.logger.Info("retention sweep complete",
		zap.Int64("events_purged", events),
		zap.Int64("messages_purged", msgs),
		zap.Int64("rate_buckets_purged", buckets))
}

// purgeChunked deletes until a chunk comes back short, pausing between
// chunks to let other transactions through.
func (j *Janitor) purgeChunked(ctx context.Context, del func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := del(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n < purgeChunkSize {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, nil
		case <-time.After(purgeChunkPause):
		}
	}
}
