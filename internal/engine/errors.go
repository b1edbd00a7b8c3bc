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
	"errors"
	"fmt"
)

var (
	// ErrProjectNotFound rejects enqueue attempts against unknown tenants.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectSuspended rejects enqueue attempts while the tenant is
	// suspended. Suspension is checked before any token is consumed.
	ErrProjectSuspended = errors.New("project suspended")
)

// QuotaExceededError carries the monthly ceiling and the usage that hit it.
type QuotaExceededError struct {
	Limit   int64
	Current int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded: %d of %d used", e.Current, e.Limit)
}

// RateLimitedError carries the per-minute ceiling and the count that tripped
// it. Current includes the token consumed by the rejected request.
type RateLimitedError struct {
	Limit   int64
	Current int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d of %d per minute", e.Current, e.Limit)
}
