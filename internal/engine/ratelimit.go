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

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// RateLimiter enforces the per-tenant per-minute ceiling with tumbling
// minute windows backed by an atomic counter upsert. Each admission consumes
// one token regardless of what happens downstream; burst protection, not
// fairness accounting.
type RateLimiter struct {
	store *store.Store
}

// NewRateLimiter creates the limiter.
func NewRateLimiter(s *store.Store) *RateLimiter {
	return &RateLimiter{store: s}
}

// Acquire consumes one token from the current minute window. It returns nil
// when admitted, or a *RateLimitedError when the new count exceeds the
// limit. Projects without a limit are unlimited and consume nothing.
func (r *RateLimiter) Acquire(ctx context.Context, p *model.Project, now time.Time) error {
	if p.RateLimitPerMinute == nil {
		return nil
	}
	count, err := r.store.IncrementRateBucket(ctx, p.ID, model.MinuteWindow(now))
	if err != nil {
		return err
	}
	if count > *p.RateLimitPerMinute {
		return &RateLimitedError{Limit: *p.RateLimitPerMinute, Current: count}
	}
	return nil
}
