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
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/store"
)

// Sender is the broker surface the dispatcher needs. The broker normalizes
// every failure mode into a classified Result.
type Sender interface {
	Send(ctx context.Context, m *model.Message) provider.Result
}

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Stats is a snapshot of cumulative dispatcher counters, reported by the
// supervisor heartbeat.
type Stats struct {
	Polls     uint64
	Delivered uint64
	Retried   uint64
	Failed    uint64
	Dead      uint64
	Skipped   uint64
}

// Dispatcher drains the queue. One polling loop per process; concurrent
// worker processes stay disjoint through the claim query's skip-locked row
// locks, with no other coordination.
type Dispatcher struct {
	store   *store.Store
	broker  Sender
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     DispatcherConfig
	now     func() time.Time

	polls     atomic.Uint64
	delivered atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
	dead      atomic.Uint64
	skipped   atomic.Uint64
}

// NewDispatcher creates the worker loop.
func NewDispatcher(s *store.Store, broker Sender, m *metrics.Metrics, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Dispatcher{
		store:   s,
		broker:  broker,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled. The batch in flight when the drain
// signal arrives is always finished and committed; cancellation is only
// observed between polls.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	batchCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher draining, last batch committed")
			return nil
		case <-ticker.C:
			if _, err := d.Poll(batchCtx); err != nil {
				d.metrics.DispatcherErrors.Inc()
				d.logger.Error("poll failed", zap.Error(err))
			}
		}
	}
}

// Poll runs one claim cycle: a single transaction that claims a batch with
// skip-locked row locks, drives each message through the state machine, and
// commits. Provider calls happen before the commit; if the commit fails
// after a successful send, the message was delivered but stays recorded as
// queued. That is the at-least-once boundary.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	d.polls.Add(1)
	d.metrics.DispatcherPolls.Inc()

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	msgs, err := tx.ClaimQueued(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	d.metrics.ClaimBatchSize.Observe(float64(len(msgs)))
	if len(msgs) == 0 {
		return 0, tx.Commit()
	}
	d.logger.Debug("claimed batch", zap.Int("count", len(msgs)))

	for i := range msgs {
		if err := d.process(ctx, tx, &msgs[i]); err != nil {
			// Roll back the whole batch: the claim dissolves and every
			// message in it becomes claimable again.
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (d *Dispatcher) process(ctx context.Context, tx *store.Tx, msg *model.Message) error {
	log := d.logger.With(
		zap.String("message_id", msg.ID.String()),
		zap.String("project_id", msg.ProjectID.String()))

	project, err := tx.ProjectByID(ctx, msg.ProjectID)
	if err != nil {
		return err
	}

	// A suspended project pauses delivery without penalty: record the skip,
	// leave status, attempts and next_attempt_at untouched.
	if project.Status == model.ProjectSuspended {
		d.skipped.Add(1)
		d.metrics.MessagesProcessed.WithLabelValues("skipped").Inc()
		log.Debug("project suspended, skipping")
		return tx.InsertEvent(ctx, &model.Event{
			MessageID:        msg.ID,
			ProjectID:        msg.ProjectID,
			EventType:        model.EventSkipped,
			ProviderResponse: mustJSON(map[string]any{"reason": "Project suspended"}),
		})
	}

	// Dead-letter bookkeeping is separate from attempt bookkeeping: a
	// message that exhausted its attempts on a previous poll is terminated
	// here without another provider call.
	if msg.Attempts >= msg.MaxAttempts {
		if err := tx.SetStatus(ctx, msg.ID, model.StatusDead); err != nil {
			return err
		}
		d.dead.Add(1)
		d.metrics.MessagesProcessed.WithLabelValues("dead").Inc()
		log.Warn("message dead-lettered", zap.Int("attempts", msg.Attempts))
		return tx.InsertEvent(ctx, &model.Event{
			MessageID: msg.ID,
			ProjectID: msg.ProjectID,
			EventType: model.EventDead,
			ProviderResponse: mustJSON(map[string]any{
				"reason":   "Max attempts exceeded",
				"attempts": msg.Attempts,
			}),
		})
	}

	attempts, err := tx.IncrementAttempts(ctx, msg.ID)
	if err != nil {
		return err
	}

	start := d.now()
	res := d.broker.Send(ctx, msg)
	elapsed := d.now().Sub(start)

	switch {
	case res.Success:
		d.metrics.ProviderSendSecs.WithLabelValues(string(msg.Type), "success").Observe(elapsed.Seconds())
		if err := tx.SetStatus(ctx, msg.ID, model.StatusDelivered); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, &model.Event{
			MessageID:        msg.ID,
			ProjectID:        msg.ProjectID,
			EventType:        model.EventDelivered,
			ProviderResponse: res.Response,
		}); err != nil {
			return err
		}
		if err := tx.IncrementUsage(ctx, msg.ProjectID, model.Period(d.now()), msg.Type); err != nil {
			return err
		}
		d.delivered.Add(1)
		d.metrics.MessagesProcessed.WithLabelValues("delivered").Inc()
		log.Info("message delivered", zap.Int("attempts", attempts))
		return nil

	case res.Retryable:
		d.metrics.ProviderSendSecs.WithLabelValues(string(msg.Type), "retryable").Observe(elapsed.Seconds())
		backoff := Backoff(attempts)
		nextAt := d.now().Add(backoff)
		if err := tx.ScheduleRetry(ctx, msg.ID, nextAt); err != nil {
			return err
		}
		d.retried.Add(1)
		d.metrics.MessagesProcessed.WithLabelValues("retried").Inc()
		log.Warn("delivery failed, will retry",
			zap.Int("attempts", attempts),
			zap.Duration("backoff", backoff),
			zap.String("error", res.ErrorMessage))
		return tx.InsertEvent(ctx, &model.Event{
			MessageID: msg.ID,
			ProjectID: msg.ProjectID,
			EventType: model.EventFailed,
			ProviderResponse: mustJSON(map[string]any{
				"error":           res.ErrorMessage,
				"retryable":       true,
				"next_attempt_at": nextAt.UTC().Format(time.RFC3339),
				"backoff_seconds": int(backoff.Seconds()),
			}),
		})

	default:
		d.metrics.ProviderSendSecs.WithLabelValues(string(msg.Type), "permanent").Observe(elapsed.Seconds())
		if err := tx.SetStatus(ctx, msg.ID, model.StatusFailed); err != nil {
			return err
		}
		d.failed.Add(1)
		d.metrics.MessagesProcessed.WithLabelValues("failed").Inc()
		log.Warn("delivery failed permanently",
			zap.Int("attempts", attempts),
			zap.String("error", res.ErrorMessage))
		return tx.InsertEvent(ctx, &model.Event{
			MessageID: msg.ID,
			ProjectID: msg.ProjectID,
			EventType: model.EventFailed,
			ProviderResponse: mustJSON(map[string]any{
				"error":     res.ErrorMessage,
				"retryable": false,
			}),
		})
	}
}

// Stats snapshots the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Polls:     d.polls.Load(),
		Delivered: d.delivered.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
		Dead:      d.dead.Load(),
		Skipped:   d.skipped.Load(),
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reached on unmarshalable types, which would be a programming
		// error in this package.
		panic(err)
	}
	return b
}
