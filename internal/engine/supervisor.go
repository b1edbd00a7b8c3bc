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
	"golang.org/x/sync/errgroup"
)

const (
	heartbeatInterval = 30 * time.Second
	drainCeiling      = 5 * time.Second
)

// Supervisor runs the worker's long-lived goroutines (dispatcher, janitor,
// heartbeat) and coordinates their shutdown.
type Supervisor struct {
	dispatcher *Dispatcher
	janitor    *Janitor
	logger     *zap.Logger
	started    time.Time
}

// NewSupervisor wires the worker process.
func NewSupervisor(d *Dispatcher, j *Janitor, logger *zap.Logger) *Supervisor {
	return &Supervisor{dispatcher: d, janitor: j, logger: logger}
}

// validate logs warnings for configurations that work but are probably
// mistakes.
func (s *Supervisor) validate() {
	if s.dispatcher.cfg.BatchSize > 100 {
		s.logger.Warn("batch size is unusually large, long transactions will hold row locks",
			zap.Int("batch_size", s.dispatcher.cfg.BatchSize))
	}
	if s.dispatcher.cfg.PollInterval < 100*time.Millisecond {
		s.logger.Warn("poll interval is unusually short",
			zap.Duration("poll_interval", s.dispatcher.cfg.PollInterval))
	}
}

// Run starts the dispatcher, janitor and heartbeat, blocks until ctx is
// cancelled, then waits for the dispatcher to finish its in-flight batch.
// The drain is bounded: a batch still running after the ceiling is
// abandoned, its transaction rolls back on process exit and the claimed
// messages become claimable again.
func (s *Supervisor) Run(ctx context.Context) error {
	s.started = time.Now()
	s.validate()
	s.logger.Info("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dispatcher.Run(gctx) })
	g.Go(func() error { return s.janitor.Run(gctx) })
	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		s.logger.Info("worker drained cleanly")
		return err
	case <-time.After(drainCeiling):
		s.logger.Warn("drain ceiling reached, abandoning in-flight batch")
		return nil
	}
}

func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.dispatcher.Stats()
			s.logger.Info("heartbeat",
				zap.Duration("uptime", time.Since(s.started).Round(time.Second)),
				zap.Uint64("polls", st.Polls),
				zap.Uint64("delivered", st.Delivered),
				zap.Uint64("retried", st.Retried),
				zap.Uint64("failed", st.Failed),
				zap.Uint64("dead", st.Dead),
				zap.Uint64("skipped", st.Skipped))
		}
	}
}
