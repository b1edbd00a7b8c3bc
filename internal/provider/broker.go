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

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/model"
)

// sendTimeout is the hard per-call deadline on every adapter invocation,
// independent of any caller deadline.
const sendTimeout = 10 * time.Second

// Broker routes messages to the adapter registered for their channel and
// shields each adapter behind a circuit breaker. Every failure path is
// normalized into a Result; Send never returns an error and never panics the
// worker.
type Broker struct {
	mu       sync.RWMutex
	adapters map[model.Channel]Adapter
	breakers map[model.Channel]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBroker creates an empty broker. Adapters must be registered before the
// dispatcher starts.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		adapters: make(map[model.Channel]Adapter),
		breakers: make(map[model.Channel]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Register installs an adapter for its channel. Nil adapters are skipped so
// callers can register conditionally.
func (b *Broker) Register(a Adapter) {
	if a == nil {
		return
	}
	ch := a.Channel()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adapters[ch] = a
	b.breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("provider_%s", ch),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("provider breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	b.logger.Info("registered provider adapter", zap.String("channel", string(ch)))
}

// Send delivers m through its channel adapter under the 10-second deadline.
// An unregistered channel, an open breaker, an adapter error, or a deadline
// hit all come back as a retryable failure.
func (b *Broker) Send(ctx context.Context, m *model.Message) Result {
	b.mu.RLock()
	adapter, ok := b.adapters[m.Type]
	breaker := b.breakers[m.Type]
	b.mu.RUnlock()

	if !ok {
		return Result{
			Retryable:    true,
			ErrorMessage: fmt.Sprintf("no adapter registered for channel %q", m.Type),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	out, err := breaker.Execute(func() (interface{}, error) {
		res, sendErr := adapter.Send(callCtx, m)
		if sendErr != nil {
			return nil, sendErr
		}
		if callCtx.Err() != nil {
			return nil, callCtx.Err()
		}
		// Retryable provider failures count against the breaker; permanent
		// failures (bad recipient etc.) do not indicate provider trouble.
		if !res.Success && res.Retryable {
			return res, fmt.Errorf("retryable provider failure: %s", res.ErrorMessage)
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(Result); ok {
			return res
		}
		b.logger.Warn("provider send failed",
			zap.String("channel", string(m.Type)),
			zap.String("message_id", m.ID.String()),
			zap.Error(err))
		return Result{Retryable: true, ErrorMessage: err.Error()}
	}
	return out.(Result)
}
